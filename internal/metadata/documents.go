package metadata

import "strings"

// BuildDocuments flattens dataset metadata into per-table lookup documents.
// Datasets expose their tables through a TableName parameter (TableID as
// fallback); each of its allowed values becomes one document. Datasets with
// no table parameter produce a single dataset-level document.
func BuildDocuments(datasets []Dataset) []Document {
	var documents []Document

	for _, ds := range datasets {
		var tableParam *ParameterDef
		var tableIDParam *ParameterDef
		var otherParams []ParameterRef

		for i := range ds.Parameters {
			p := &ds.Parameters[i]
			switch strings.ToLower(p.Name) {
			case "tablename":
				tableParam = p
			case "tableid":
				tableIDParam = p
			default:
				otherParams = append(otherParams, ParameterRef{Name: p.Name, Description: p.Description})
			}
		}
		if tableParam == nil {
			tableParam = tableIDParam
		}

		if tableParam != nil && len(tableParam.Values) > 0 {
			for _, val := range tableParam.Values {
				documents = append(documents, Document{
					DatasetName:        ds.Name,
					DatasetDescription: ds.Description,
					TableName:          val.Key,
					TableDescription:   val.Description,
					OtherParameters:    otherParams,
				})
			}
			continue
		}

		documents = append(documents, Document{
			DatasetName:        ds.Name,
			DatasetDescription: ds.Description,
			OtherParameters:    otherParams,
		})
	}

	return documents
}

// TablesFromDocuments derives the Tables list of each dataset from its
// flattened documents, keyed by dataset name.
func TablesFromDocuments(documents []Document) map[string][]Table {
	tables := make(map[string][]Table)
	for _, doc := range documents {
		if doc.TableName == "" {
			continue
		}
		tables[doc.DatasetName] = append(tables[doc.DatasetName], Table{
			Name:        doc.TableName,
			Description: doc.TableDescription,
		})
	}
	return tables
}
