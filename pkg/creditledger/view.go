package creditledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FilterAll matches every entry type or method.
const FilterAll = "All"

// Filter narrows the entry history for display. Zero values mean "no
// constraint"; Type and Method treat both "" and "All" as wildcards.
type Filter struct {
	// DateFrom and DateTo bound entries at day granularity, inclusive:
	// DateFrom counts from 00:00:00 and DateTo through 23:59:59 local time.
	DateFrom *time.Time
	DateTo   *time.Time
	Type     string
	Method   string
	// ReferenceSearch is a case-sensitive substring match on Reference.
	ReferenceSearch string
}

// Matches reports whether the entry passes the filter.
func (filter Filter) Matches(entry Entry) bool {
	if filter.Type != "" && filter.Type != FilterAll && entry.Type.String() != filter.Type {
		return false
	}
	if filter.Method != "" && filter.Method != FilterAll && entry.Method.String() != filter.Method {
		return false
	}
	if filter.DateFrom != nil {
		from := startOfDay(*filter.DateFrom)
		if entry.Date.Before(from) {
			return false
		}
	}
	if filter.DateTo != nil {
		to := endOfDay(*filter.DateTo)
		if entry.Date.After(to) {
			return false
		}
	}
	if filter.ReferenceSearch != "" && !strings.Contains(entry.Reference, filter.ReferenceSearch) {
		return false
	}
	return true
}

func (filter Filter) equal(other Filter) bool {
	if filter.Type != other.Type || filter.Method != other.Method || filter.ReferenceSearch != other.ReferenceSearch {
		return false
	}
	if !timesEqual(filter.DateFrom, other.DateFrom) {
		return false
	}
	return timesEqual(filter.DateTo, other.DateTo)
}

func timesEqual(left *time.Time, right *time.Time) bool {
	if left == nil || right == nil {
		return left == right
	}
	return left.Equal(*right)
}

func startOfDay(value time.Time) time.Time {
	year, month, day := value.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, value.Location())
}

func endOfDay(value time.Time) time.Time {
	year, month, day := value.Date()
	return time.Date(year, month, day, 23, 59, 59, 0, value.Location())
}

// FilterEntries returns the entries passing the filter in their stored
// (most-recent-first) order. No re-sorting happens here.
func FilterEntries(entries []Entry, filter Filter) []Entry {
	filtered := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if filter.Matches(entry) {
			filtered = append(filtered, entry)
		}
	}
	return filtered
}

// View is the stateful filtered/paginated window over the history. The
// page index resets to zero whenever the filter changes.
type View struct {
	pageSize int
	page     int
	filter   Filter
}

// NewView returns a View with the given page size (DefaultPageSize when
// not positive).
func NewView(pageSize int) *View {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &View{pageSize: pageSize}
}

// SetFilter replaces the filter, resetting the page index when it differs
// from the current one.
func (view *View) SetFilter(filter Filter) {
	if view.filter.equal(filter) {
		return
	}
	view.filter = filter
	view.page = 0
}

// SetPage jumps to an explicit page index, clamped at zero.
func (view *View) SetPage(page int) {
	if page < 0 {
		page = 0
	}
	view.page = page
}

// NextPage advances one page when more filtered entries remain.
func (view *View) NextPage(total int) {
	if (view.page+1)*view.pageSize < total {
		view.page++
	}
}

// PrevPage steps back one page, stopping at zero.
func (view *View) PrevPage() {
	if view.page > 0 {
		view.page--
	}
}

// Filter returns the active filter.
func (view *View) Filter() Filter {
	return view.filter
}

// Page returns the current page index.
func (view *View) Page() int {
	return view.page
}

// ViewPage is one page of filtered entries.
type ViewPage struct {
	Items    []Entry
	Page     int
	PageSize int
	Total    int
}

// Apply filters the entries and slices out the current page.
func (view *View) Apply(entries []Entry) ViewPage {
	filtered := FilterEntries(entries, view.filter)
	start := view.page * view.pageSize
	if start > len(filtered) {
		start = len(filtered)
	}
	end := start + view.pageSize
	if end > len(filtered) {
		end = len(filtered)
	}
	return ViewPage{
		Items:    filtered[start:end],
		Page:     view.page,
		PageSize: view.pageSize,
		Total:    len(filtered),
	}
}

// UsageThisPeriod sums the magnitudes of all Spend entries.
func UsageThisPeriod(entries []Entry) decimal.Decimal {
	total := decimal.Zero
	for _, entry := range entries {
		if entry.Type == EntrySpend {
			total = total.Add(entry.Amount.Abs())
		}
	}
	return total
}

// LifetimeAdded sums the amounts of all Top-up and Promo entries.
func LifetimeAdded(entries []Entry) decimal.Decimal {
	total := decimal.Zero
	for _, entry := range entries {
		if entry.Type == EntryTopUp || entry.Type == EntryPromo {
			total = total.Add(entry.Amount)
		}
	}
	return total
}
