package store

// Index mapping bodies. All text fields share the modified analyzer so
// hyphenated biomedical terms match both as written and split.

// ArticleMapping is the mapping for the raw article index. Keyword fields
// default to "NONE" so absent metadata stays queryable.
const ArticleMapping = `{
  "settings": {
    "number_of_shards": 3,
    "number_of_replicas": 1,
    "analysis": {
      "analyzer": {
        "modified_analyzer": {
          "type": "custom",
          "tokenizer": "standard",
          "filter": ["lowercase", "preserve_original"]
        }
      },
      "filter": {
        "preserve_original": {
          "type": "word_delimiter",
          "preserve_original": true
        }
      }
    }
  },
  "mappings": {
    "properties": {
      "abstract": {"type": "text", "analyzer": "modified_analyzer"},
      "articleDate": {"type": "date", "format": "yyyy-MM-dd", "null_value": "1900-01-01"},
      "authors": {
        "type": "nested",
        "properties": {
          "affiliations": {
            "type": "nested",
            "properties": {
              "institute": {"type": "text", "analyzer": "modified_analyzer"}
            }
          },
          "firstName": {"type": "keyword", "null_value": "NONE"},
          "lastName": {"type": "keyword", "null_value": "NONE"}
        }
      },
      "chemicals": {
        "type": "nested",
        "properties": {
          "chemicalMeshID": {"type": "keyword", "null_value": "NONE"},
          "name": {"type": "text", "analyzer": "modified_analyzer"}
        }
      },
      "fullText": {"type": "text", "analyzer": "modified_analyzer"},
      "fullTextURL": {"type": "keyword", "null_value": "NONE"},
      "grants": {
        "type": "nested",
        "properties": {
          "acronym": {"type": "keyword", "null_value": "NONE"},
          "agency": {"type": "keyword", "null_value": "NONE"},
          "country": {"type": "keyword", "null_value": "NONE"},
          "grantID": {"type": "keyword", "null_value": "NONE"}
        }
      },
      "history": {
        "type": "nested",
        "properties": {
          "date": {"type": "date", "format": "yyyy-MM-dd", "null_value": "1900-01-01"},
          "type": {"type": "keyword", "null_value": "NONE"}
        }
      },
      "journalInformation": {
        "type": "nested",
        "properties": {
          "journalTitle": {"type": "text", "analyzer": "modified_analyzer"},
          "abbreviation": {"type": "text", "analyzer": "modified_analyzer"},
          "journalIssueInformation": {
            "type": "nested",
            "properties": {
              "medium": {"type": "keyword", "null_value": "NONE"},
              "volume": {"type": "keyword", "null_value": "NONE"},
              "issueNumber": {"type": "keyword", "null_value": "NONE"},
              "issueDate": {
                "type": "nested",
                "properties": {
                  "year": {"type": "keyword", "null_value": "NONE"},
                  "month": {"type": "keyword", "null_value": "NONE"},
                  "day": {"type": "keyword", "null_value": "NONE"}
                }
              }
            }
          }
        }
      },
      "keywords": {
        "type": "nested",
        "properties": {
          "major": {"type": "keyword", "null_value": "NONE"},
          "name": {"type": "text", "analyzer": "modified_analyzer"}
        }
      },
      "language": {"type": "keyword", "null_value": "NONE"},
      "meshTerms": {
        "type": "nested",
        "properties": {
          "major": {"type": "keyword", "null_value": "NONE"},
          "meshID": {"type": "keyword", "null_value": "NONE"},
          "name": {"type": "text", "analyzer": "modified_analyzer"}
        }
      },
      "nlpProcessedFlag": {"type": "keyword", "null_value": "N"},
      "otherAbstract": {"type": "text", "analyzer": "modified_analyzer"},
      "publicationTypes": {
        "type": "nested",
        "properties": {
          "publicationMeshID": {"type": "keyword", "null_value": "NONE"},
          "type": {
            "type": "text",
            "fields": {"keyword": {"type": "keyword", "ignore_above": 256}}
          }
        }
      },
      "status": {"type": "keyword", "null_value": "NONE"},
      "title": {"type": "text", "analyzer": "modified_analyzer"},
      "vectorisedFlag": {"type": "keyword", "null_value": "N"},
      "vernacularTitle": {"type": "text", "analyzer": "modified_analyzer"}
    }
  }
}`

// ChunkMapping is the mapping for the abstract-chunk index with the 768-d
// HNSW vector field.
const ChunkMapping = `{
  "settings": {
    "number_of_shards": 3,
    "number_of_replicas": 1,
    "analysis": {
      "analyzer": {
        "modified_analyzer": {
          "type": "custom",
          "tokenizer": "standard",
          "filter": ["lowercase", "preserve_original"]
        }
      },
      "filter": {
        "preserve_original": {
          "type": "word_delimiter",
          "preserve_original": true
        }
      }
    },
    "knn": true
  },
  "mappings": {
    "properties": {
      "documentSource": {"type": "keyword"},
      "documentID": {"type": "keyword"},
      "articleDate": {"type": "date", "format": "yyyy-MM-dd"},
      "title": {"type": "text", "analyzer": "modified_analyzer"},
      "journal:title": {"type": "text", "analyzer": "modified_analyzer"},
      "keywords:name": {"type": "text", "analyzer": "modified_analyzer"},
      "meshTerms": {"type": "text", "analyzer": "modified_analyzer"},
      "meshIds": {"type": "text", "analyzer": "modified_analyzer"},
      "chemicals": {"type": "text", "analyzer": "modified_analyzer"},
      "authors:name": {"type": "text", "analyzer": "modified_analyzer"},
      "authors:affiliation": {"type": "text", "analyzer": "modified_analyzer"},
      "abstract_chunk_id": {"type": "integer"},
      "abstract_chunk": {"type": "text", "analyzer": "modified_analyzer"},
      "pubmed_bert_vector": {
        "type": "knn_vector",
        "dimension": 768,
        "method": {
          "engine": "lucene",
          "name": "hnsw",
          "space_type": "cosinesimil",
          "parameters": {"ef_construction": 40, "m": 8}
        }
      }
    }
  }
}`

// ClusterMapping is the mapping for the cluster hierarchy index.
const ClusterMapping = `{
  "settings": {
    "number_of_shards": 3,
    "number_of_replicas": 1,
    "analysis": {
      "analyzer": {
        "modified_analyzer": {
          "type": "custom",
          "tokenizer": "standard",
          "filter": ["lowercase", "preserve_original"]
        }
      },
      "filter": {
        "preserve_original": {
          "type": "word_delimiter",
          "preserve_original": true
        }
      }
    },
    "knn": true
  },
  "mappings": {
    "properties": {
      "cluster_id": {"type": "keyword"},
      "label": {"type": "text", "analyzer": "modified_analyzer"},
      "topic_information": {
        "type": "nested",
        "properties": {
          "word": {"type": "text"},
          "score": {"type": "float"}
        }
      },
      "description": {"type": "text", "analyzer": "modified_analyzer"},
      "topic_words": {"type": "text"},
      "x": {"type": "float"},
      "y": {"type": "float"},
      "depth": {"type": "integer"},
      "path": {"type": "keyword"},
      "is_leaf": {"type": "boolean"},
      "children": {"type": "keyword"},
      "cluster_embedding": {
        "type": "knn_vector",
        "dimension": 768,
        "method": {
          "engine": "lucene",
          "name": "hnsw",
          "space_type": "cosinesimil",
          "parameters": {"ef_construction": 40, "m": 8}
        }
      },
      "pairwise_similarity": {
        "type": "nested",
        "properties": {
          "other_cluster_id": {"type": "keyword"},
          "similarity_score": {"type": "float"}
        }
      }
    }
  }
}`

// DocumentMapping is the mapping for the per-document projection index used
// by the map view.
const DocumentMapping = `{
  "settings": {
    "number_of_shards": 3,
    "number_of_replicas": 1,
    "knn": true
  },
  "mappings": {
    "properties": {
      "document_id": {"type": "keyword"},
      "title": {"type": "text"},
      "abstract": {"type": "text"},
      "date": {"type": "date"},
      "authors:name": {"type": "text"},
      "authors:affiliation": {"type": "text"},
      "keywords:name": {"type": "text"},
      "meshTerms": {"type": "text"},
      "chemicals": {"type": "text"},
      "journal:title": {"type": "text"},
      "cluster_id": {"type": "keyword"},
      "x": {"type": "float"},
      "y": {"type": "float"},
      "pubmed_bert_vector": {
        "type": "knn_vector",
        "dimension": 768,
        "method": {
          "engine": "lucene",
          "name": "hnsw",
          "space_type": "cosinesimil",
          "parameters": {"ef_construction": 40, "m": 8}
        }
      }
    }
  }
}`
