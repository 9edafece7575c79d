package chat

import (
	"fmt"
	"strings"

	"github.com/tablechat/tablechat/internal/dataset"
	"github.com/tablechat/tablechat/internal/nlquery"
)

const previewRows = 10

type shortcut struct {
	name     string
	keywords []string
	answer   func(*dataset.Dataset) nlquery.Result
}

var shortcuts = []shortcut{
	{
		name:     "columns",
		keywords: []string{"colonnes", "columns", "nom des colonnes", "column names", "structure", "champs", "fields"},
		answer:   describeColumns,
	},
	{
		name:     "size",
		keywords: []string{"taille", "size", "dimensions", "combien de lignes", "rows", "shape"},
		answer:   describeSize,
	},
	{
		name:     "dtypes",
		keywords: []string{"types", "dtypes", "type de données", "data types"},
		answer:   describeTypes,
	},
	{
		name:     "preview",
		keywords: []string{"aperçu", "preview", "head", "premières lignes", "first rows", "échantillon", "sample"},
		answer: func(ds *dataset.Dataset) nlquery.Result {
			return nlquery.Frame(ds.Head(previewRows))
		},
	},
}

// Route answers structural questions directly from the dataset. A miss
// returns a none result and the question goes to the engine.
func Route(text string, ds *dataset.Dataset) nlquery.Result {
	_, result := route(text, ds)
	return result
}

func route(text string, ds *dataset.Dataset) (string, nlquery.Result) {
	if ds == nil {
		return "", nlquery.None()
	}
	normalized := strings.ToLower(strings.TrimSpace(text))
	for _, sc := range shortcuts {
		if containsAny(normalized, sc.keywords) {
			return sc.name, sc.answer(ds)
		}
	}
	return "", nlquery.None()
}

func describeColumns(ds *dataset.Dataset) nlquery.Result {
	lines := make([]string, len(ds.Columns))
	for i, column := range ds.Columns {
		lines[i] = fmt.Sprintf("%d. **%s** (%s)", i+1, column.Name, column.DType)
	}
	return nlquery.Text("**Available columns in the dataset:**\n\n" + strings.Join(lines, "\n"))
}

func describeSize(ds *dataset.Dataset) nlquery.Result {
	rows, cols := ds.Shape()
	return nlquery.Text(fmt.Sprintf(
		"**Dataset information:**\n\n- **Rows:** %d\n- **Columns:** %d\n- **Shape:** (%d, %d)",
		rows, cols, rows, cols,
	))
}

func describeTypes(ds *dataset.Dataset) nlquery.Result {
	lines := make([]string, len(ds.Columns))
	for i, column := range ds.Columns {
		lines[i] = fmt.Sprintf("- **%s** : %s", column.Name, column.DType)
	}
	return nlquery.Text("**Data types:**\n\n" + strings.Join(lines, "\n"))
}
