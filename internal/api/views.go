package api

import (
	"time"

	"github.com/tablechat/tablechat/internal/chat"
	"github.com/tablechat/tablechat/internal/dataset"
	"github.com/tablechat/tablechat/internal/nlquery"
	"github.com/tablechat/tablechat/internal/source"
)

type dashboardResponse struct {
	Title      string `json:"title"`
	EmbedURL   string `json:"embed_url"`
	Configured bool   `json:"configured"`
}

type frameView struct {
	Columns     []dataset.Column `json:"columns"`
	Rows        [][]any          `json:"rows"`
	RowCount    int              `json:"row_count"`
	ColumnCount int              `json:"column_count"`
}

func newFrameView(ds *dataset.Dataset) *frameView {
	if ds == nil {
		return nil
	}
	rows := ds.Rows
	if rows == nil {
		rows = [][]any{}
	}
	return &frameView{
		Columns:     ds.Columns,
		Rows:        rows,
		RowCount:    ds.NumRows(),
		ColumnCount: ds.NumCols(),
	}
}

type chartView struct {
	Title string     `json:"title,omitempty"`
	Mark  string     `json:"mark"`
	X     string     `json:"x"`
	Y     string     `json:"y"`
	Data  *frameView `json:"data"`
}

type messageView struct {
	ID          string       `json:"id"`
	Role        chat.Role    `json:"role"`
	Content     string       `json:"content"`
	Timestamp   time.Time    `json:"timestamp"`
	ContentType nlquery.Kind `json:"content_type,omitempty"`
	Frame       *frameView   `json:"frame,omitempty"`
	Chart       *chartView   `json:"chart,omitempty"`
}

func newMessageViews(messages []chat.Message) []messageView {
	out := make([]messageView, len(messages))
	for i, msg := range messages {
		out[i] = messageView{
			ID:          msg.ID,
			Role:        msg.Role,
			Content:     msg.Content,
			Timestamp:   msg.Timestamp,
			ContentType: msg.ContentType,
			Frame:       newFrameView(msg.Frame),
		}
		if msg.Chart != nil {
			out[i].Chart = &chartView{
				Title: msg.Chart.Title,
				Mark:  msg.Chart.Mark,
				X:     msg.Chart.X,
				Y:     msg.Chart.Y,
				Data:  newFrameView(msg.Chart.Data),
			}
		}
	}
	return out
}

type sourceView struct {
	Kind   source.Kind    `json:"kind"`
	Name   string         `json:"name,omitempty"`
	Table  string         `json:"table,omitempty"`
	Tables []string       `json:"tables,omitempty"`
	Params *source.Params `json:"params,omitempty"`
}

type datasetSummaryView struct {
	RowCount    int              `json:"row_count"`
	ColumnCount int              `json:"column_count"`
	Columns     []dataset.Column `json:"columns"`
}

type sessionView struct {
	ID           string              `json:"id"`
	Owner        string              `json:"owner"`
	CreatedAt    time.Time           `json:"created_at"`
	Source       *sourceView         `json:"source"`
	Dataset      *datasetSummaryView `json:"dataset"`
	Connected    bool                `json:"connected"`
	EngineReady  bool                `json:"engine_ready"`
	Processing   bool                `json:"processing"`
	MessageCount int                 `json:"message_count"`
}

func newSessionView(summary chat.Summary) sessionView {
	view := sessionView{
		ID:           summary.ID,
		Owner:        summary.Owner,
		CreatedAt:    summary.CreatedAt,
		Connected:    summary.Connected,
		EngineReady:  summary.EngineReady,
		Processing:   summary.Processing,
		MessageCount: summary.Messages,
	}
	if summary.Source != nil {
		view.Source = &sourceView{
			Kind:   summary.Source.Kind,
			Name:   summary.Source.Name,
			Table:  summary.Source.Table,
			Tables: summary.Source.Tables,
			Params: summary.Source.Params,
		}
		view.Dataset = &datasetSummaryView{
			RowCount:    summary.Rows,
			ColumnCount: len(summary.Columns),
			Columns:     summary.Columns,
		}
	}
	return view
}
