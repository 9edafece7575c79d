package nlquery

import (
	"context"
	"strings"

	"github.com/tablechat/tablechat/internal/dataset"
	"github.com/tablechat/tablechat/internal/failure"
)

type Kind string

const (
	KindText      Kind = "text"
	KindDataframe Kind = "dataframe"
	KindChart     Kind = "chart"
	KindNone      Kind = "none"
)

// Chart is a declarative chart: the mark, the columns bound to each axis and
// the rows to draw. Rendering is left to the client.
type Chart struct {
	Title string           `json:"title,omitempty"`
	Mark  string           `json:"mark"`
	X     string           `json:"x"`
	Y     string           `json:"y"`
	Data  *dataset.Dataset `json:"data"`
}

// Result is the closed set of answers an engine can give.
type Result struct {
	Kind  Kind
	Text  string
	Frame *dataset.Dataset
	Chart *Chart
}

func Text(text string) Result {
	return Result{Kind: KindText, Text: text}
}

func Frame(ds *dataset.Dataset) Result {
	return Result{Kind: KindDataframe, Frame: ds}
}

func ChartResult(chart *Chart) Result {
	return Result{Kind: KindChart, Chart: chart}
}

func None() Result {
	return Result{Kind: KindNone}
}

func (r Result) IsNone() bool {
	return r.Kind == KindNone || r.Kind == ""
}

type Handle interface {
	Chat(ctx context.Context, question string) (Result, error)
	Close() error
}

type Factory interface {
	NewHandle(ctx context.Context, ds *dataset.Dataset) (Handle, error)
}

type FactoryFunc func(ctx context.Context, ds *dataset.Dataset) (Handle, error)

func (f FactoryFunc) NewHandle(ctx context.Context, ds *dataset.Dataset) (Handle, error) {
	return f(ctx, ds)
}

type UnavailableFactory struct {
	Reason string
}

func (f UnavailableFactory) NewHandle(context.Context, *dataset.Dataset) (Handle, error) {
	reason := strings.TrimSpace(f.Reason)
	if reason == "" {
		reason = "the AI assistant is not configured"
	}
	return nil, failure.New(failure.KindEngineUnavailable, "build engine", reason)
}
