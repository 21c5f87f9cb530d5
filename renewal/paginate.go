package renewal

// Page sizes used when a caller passes nothing sensible.
const (
	DefaultPageSize = 25
	MaxPageSize     = 500
)

// Page is one slice of a filtered, sorted result. TotalCount is the size of
// the whole filtered set so "X records" and page counts agree with filters.
type Page struct {
	Rows       []RenewalRecord
	TotalCount int
	Page       int
	PageSize   int
	PageCount  int
}

// Paginate cuts a 1-based page out of rows. page < 1 is treated as 1,
// pageSize <= 0 as DefaultPageSize, and a page past the end is empty.
func Paginate(rows []RenewalRecord, page, pageSize int) Page {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	if page < 1 {
		page = 1
	}

	total := len(rows)
	p := Page{
		Rows:       []RenewalRecord{},
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
		PageCount:  (total + pageSize - 1) / pageSize,
	}

	// Compare before multiplying so huge page numbers cannot overflow.
	if page-1 > total/pageSize {
		return p
	}
	start := (page - 1) * pageSize
	if start >= total {
		return p
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	p.Rows = rows[start:end]
	return p
}

// QueryPage runs Query and Paginate in one call; this is the whole contract
// the presentation layer needs.
func QueryPage(records []RenewalRecord, filters FilterSpec, criteria []SortCriterion, page, pageSize int) Page {
	return Paginate(Query(records, filters, criteria), page, pageSize)
}
