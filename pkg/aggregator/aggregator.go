// Package aggregator restores the caller's order over results that arrive in
// completion order and summarizes a batch for progress display.
package aggregator

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/iaforte/cloud-transcript/pkg/model"
)

// OrderingKey compares two results; negative means a sorts first.
type OrderingKey func(a, b model.TranscriptionResult) int

type Summary struct {
	Total     int `json:"total"`
	Cached    int `json:"cached"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

func (s Summary) String() string {
	return fmt.Sprintf("%d items: %d cached, %d succeeded, %d failed, %d cancelled",
		s.Total, s.Cached, s.Succeeded, s.Failed, s.Cancelled)
}

// Done counts items that need no further action.
func (s Summary) Done() int {
	return s.Cached + s.Succeeded
}

type Batch struct {
	Results []model.TranscriptionResult `json:"results"`
	Summary Summary                     `json:"summary"`
}

// Aggregate returns the results sorted by key. The input slice and the results
// themselves are left untouched; equal keys keep their input order.
func Aggregate(results []model.TranscriptionResult, key OrderingKey) Batch {
	ordered := slices.Clone(results)
	if key != nil {
		slices.SortStableFunc(ordered, key)
	}
	return Batch{Results: ordered, Summary: Summarize(ordered)}
}

func Summarize(results []model.TranscriptionResult) Summary {
	summary := Summary{Total: len(results)}
	for _, result := range results {
		switch result.Status {
		case model.StatusCached:
			summary.Cached++
		case model.StatusSucceeded:
			summary.Succeeded++
		case model.StatusFailed:
			summary.Failed++
		case model.StatusCancelled:
			summary.Cancelled++
		}
	}
	return summary
}

// ByUploadIndex orders results by the position their item was uploaded at.
// Results for items not in items sort last, by item id.
func ByUploadIndex(items []model.AudioItem) OrderingKey {
	index := indexItems(items)
	return func(a, b model.TranscriptionResult) int {
		return compareKnown(index, a, b, func(x, y model.AudioItem) int {
			return cmp.Compare(x.UploadIndex, y.UploadIndex)
		})
	}
}

// ByRecordedAt orders by the timestamp in the WhatsApp file name. Items whose name
// carries none sort after the timestamped ones; ties fall back to upload index.
func ByRecordedAt(items []model.AudioItem) OrderingKey {
	index := indexItems(items)
	return func(a, b model.TranscriptionResult) int {
		return compareKnown(index, a, b, func(x, y model.AudioItem) int {
			switch {
			case x.RecordedAt.IsZero() && !y.RecordedAt.IsZero():
				return 1
			case !x.RecordedAt.IsZero() && y.RecordedAt.IsZero():
				return -1
			}
			if c := x.RecordedAt.Compare(y.RecordedAt); c != 0 {
				return c
			}
			return cmp.Compare(x.UploadIndex, y.UploadIndex)
		})
	}
}

// ByFileName orders by base file name, then upload index.
func ByFileName(items []model.AudioItem) OrderingKey {
	index := indexItems(items)
	return func(a, b model.TranscriptionResult) int {
		return compareKnown(index, a, b, func(x, y model.AudioItem) int {
			if c := cmp.Compare(x.FileName(), y.FileName()); c != 0 {
				return c
			}
			return cmp.Compare(x.UploadIndex, y.UploadIndex)
		})
	}
}

func indexItems(items []model.AudioItem) map[string]model.AudioItem {
	index := make(map[string]model.AudioItem, len(items))
	for _, item := range items {
		index[item.ID] = item
	}
	return index
}

func compareKnown(
	index map[string]model.AudioItem,
	a, b model.TranscriptionResult,
	compare func(x, y model.AudioItem) int,
) int {
	x, okA := index[a.ItemID]
	y, okB := index[b.ItemID]
	switch {
	case okA && okB:
		return compare(x, y)
	case okA:
		return -1
	case okB:
		return 1
	}
	return cmp.Compare(a.ItemID, b.ItemID)
}
