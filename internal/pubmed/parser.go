// Package pubmed parses article XML from the external article service into
// domain records. Mixed-content elements (titles and abstracts with inline
// markup) are flattened to their full text in document order.
package pubmed

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"clustertalk/internal/core"
	"clustertalk/internal/logger"
)

// ParseError reports which article made a batch unparseable. A malformed
// article is fatal for the whole batch: silently skipping records would
// leave undetectable holes in the corpus.
type ParseError struct {
	PMID string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("transforming article PMID %s: %v", e.PMID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseArticleSet transforms a PubmedArticleSet document. Book articles and
// other non-article members of the set are skipped.
func ParseArticleSet(data []byte) ([]core.Article, error) {
	root, err := parseTree(data)
	if err != nil {
		return nil, fmt.Errorf("parsing article set: %w", err)
	}

	var articles []core.Article
	for _, child := range root.elements() {
		if child.name != "PubmedArticle" {
			logger.Debug("skipping non-article record", "tag", child.name)
			continue
		}
		article, err := transformArticle(child)
		if err != nil {
			return nil, &ParseError{PMID: child.findText("PMID"), Err: err}
		}
		articles = append(articles, article)
	}
	return articles, nil
}

func transformArticle(tree *node) (core.Article, error) {
	article := core.Article{
		FullTextURL:      "NA",
		FullText:         "NA",
		VectorisedFlag:   "N",
		NLPProcessedFlag: "N",
	}

	pmid := tree.find("PMID")
	if pmid == nil || pmid.allText() == "" {
		return article, fmt.Errorf("article has no PMID")
	}
	article.PMID = pmid.allText()

	if title := tree.find("ArticleTitle"); title != nil {
		article.Title = title.allText()
	}
	if vernacular := tree.find("VernacularTitle"); vernacular != nil {
		article.VernacularTitle = vernacular.allText()
	}
	article.Abstract = joinAbstract(tree.find("Abstract"))
	article.OtherAbstract = joinAbstract(tree.find("OtherAbstract"))

	if lang := tree.find("Language"); lang != nil {
		article.Language = lang.allText()
	}
	citation := tree.find("MedlineCitation")
	if citation == nil {
		return article, fmt.Errorf("article has no MedlineCitation")
	}
	article.Status = citation.attr("Status")

	if history := tree.find("History"); history != nil {
		for _, entry := range history.elements() {
			date := safeParseDate(
				entry.findText("Year"), entry.findText("Month"), entry.findText("Day"),
				article.PMID, "History")
			article.History = append(article.History, core.HistoryEntry{
				Date: date,
				Type: entry.attr("PubStatus"),
			})
		}
	}

	date, err := resolveArticleDate(tree, article.PMID, article.History)
	if err != nil {
		return article, err
	}
	article.ArticleDate = date

	if list := tree.find("AuthorList"); list != nil {
		for _, xauth := range list.findAll("Author") {
			author := core.Author{
				FirstName: xauth.findText("ForeName"),
				LastName:  xauth.findText("LastName"),
			}
			for _, affiliation := range xauth.findAll("Affiliation") {
				author.Affiliations = append(author.Affiliations,
					core.Affiliation{Institute: affiliation.allText()})
			}
			article.Authors = append(article.Authors, author)
		}
	}

	if list := tree.find("GrantList"); list != nil {
		for _, grant := range list.findAll("Grant") {
			article.Grants = append(article.Grants, core.Grant{
				GrantID: grant.findText("GrantID"),
				Acronym: grant.findText("Acronym"),
				Agency:  grant.findText("Agency"),
				Country: grant.findText("Country"),
			})
		}
	}

	if list := tree.find("ChemicalList"); list != nil {
		for _, chemical := range list.findAll("Chemical") {
			entry := core.Chemical{}
			if substance := chemical.find("NameOfSubstance"); substance != nil {
				entry.ChemicalMeshID = substance.attr("UI")
				entry.Name = substance.allText()
			}
			article.Chemicals = append(article.Chemicals, entry)
		}
	}

	if list := tree.find("KeywordList"); list != nil {
		for _, keyword := range list.findAll("Keyword") {
			article.Keywords = append(article.Keywords, core.Keyword{
				Name:  keyword.allText(),
				Major: keyword.attr("MajorTopicYN") == "Y",
			})
		}
	}

	if list := tree.find("MeshHeadingList"); list != nil {
		for _, heading := range list.findAll("MeshHeading") {
			if descriptor := heading.find("DescriptorName"); descriptor != nil {
				article.MeshTerms = append(article.MeshTerms, core.MeshTerm{
					MeshID: descriptor.attr("UI"),
					Name:   descriptor.allText(),
					Major:  descriptor.attr("MajorTopicYN") == "Y",
				})
			}
		}
	}

	if list := tree.find("PublicationTypeList"); list != nil {
		for _, ptype := range list.findAll("PublicationType") {
			article.PublicationTypes = append(article.PublicationTypes, core.PublicationType{
				PublicationMeshID: ptype.attr("UI"),
				Type:              ptype.allText(),
			})
		}
	}

	if journal := tree.find("Journal"); journal != nil {
		article.Journal = core.JournalInformation{
			JournalTitle: journal.findText("Title"),
			Abbreviation: journal.findText("ISOAbbreviation"),
		}
		if issue := journal.find("JournalIssue"); issue != nil {
			info := core.JournalIssue{
				Medium:      issue.attr("CitedMedium"),
				Volume:      issue.childText("Volume"),
				IssueNumber: issue.childText("Issue"),
			}
			if pubDate := issue.child("PubDate"); pubDate != nil {
				info.IssueDate = core.IssueDate{
					Year:  pubDate.childText("Year"),
					Month: normalizeMonth(pubDate.childText("Month")),
					Day:   pubDate.childText("Day"),
				}
			}
			article.Journal.Issue = info
		}
	}

	return article, nil
}

// joinAbstract concatenates every AbstractText section with a separating
// space, preserving inline markup text.
func joinAbstract(abstract *node) string {
	if abstract == nil {
		return ""
	}
	var sections []string
	for _, text := range abstract.findAll("AbstractText") {
		sections = append(sections, text.allText())
	}
	return strings.Join(sections, " ")
}

// resolveArticleDate picks the article date in precedence order:
// explicit ArticleDate, complete journal PubDate, the entrez history
// entry, then the first history entry.
func resolveArticleDate(tree *node, pmid string, history []core.HistoryEntry) (string, error) {
	if articleDate := tree.find("ArticleDate"); articleDate != nil {
		date := safeParseDate(
			articleDate.findText("Year"), articleDate.findText("Month"), articleDate.findText("Day"),
			pmid, "ArticleDate")
		if date != "" {
			return date, nil
		}
	}

	if pubDate := tree.find("PubDate"); pubDate != nil {
		year := pubDate.findText("Year")
		month := normalizeMonth(pubDate.findText("Month"))
		day := pubDate.findText("Day")
		if year != "" && month != "" && day != "" {
			if date := safeParseDate(year, month, day, pmid, "PubDate"); date != "" {
				return date, nil
			}
		}
	}

	for _, entry := range history {
		if entry.Type == "entrez" && entry.Date != "" {
			return entry.Date, nil
		}
	}
	if len(history) > 0 && history[0].Date != "" {
		return history[0].Date, nil
	}
	return "", fmt.Errorf("no usable date in article or history")
}

// safeParseDate builds an ISO date, clamping an out-of-range day to the last
// day of the month. Returns "" when no valid date can be built.
func safeParseDate(year, month, day, pmid, context string) string {
	y, errY := strconv.Atoi(year)
	m, errM := strconv.Atoi(month)
	d, errD := strconv.Atoi(day)
	if errY != nil || errM != nil || errD != nil || m < 1 || m > 12 {
		logger.Warn("unparseable date components",
			"pmid", pmid, "context", context, "year", year, "month", month, "day", day)
		return ""
	}

	lastDay := time.Date(y, time.Month(m)+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if d < 1 || d > lastDay {
		corrected := d
		if corrected > lastDay {
			corrected = lastDay
		}
		if corrected < 1 {
			corrected = 1
		}
		logger.Warn("correcting invalid day of month",
			"pmid", pmid, "context", context,
			"date", fmt.Sprintf("%s-%s-%s", year, month, day), "corrected_day", corrected)
		d = corrected
	}
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
}

// normalizeMonth maps month-name abbreviations to their number, leaving
// numeric months untouched.
func normalizeMonth(month string) string {
	if month == "" {
		return ""
	}
	if _, err := strconv.Atoi(month); err == nil {
		return month
	}
	if t, err := time.Parse("Jan", month); err == nil {
		return strconv.Itoa(int(t.Month()))
	}
	if t, err := time.Parse("January", month); err == nil {
		return strconv.Itoa(int(t.Month()))
	}
	return month
}
