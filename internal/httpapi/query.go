package httpapi

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/roach88/repokit/internal/ir"
	"github.com/roach88/repokit/internal/repository"
)

// listQuery is the decoded query string of a collection read.
type listQuery struct {
	contract   ir.FilterContract
	pagination *repository.Pagination
}

// parseListQuery decodes
//
//	page=N&limit=N&where.<field>=<encoded>&orderBy.<field>=<dir>&includes=rel,rel.nested
//
// A where field given more than once becomes a list value. orderBy terms
// keep their order in the query string. Unknown keys are ignored. The
// resulting contract is external.
func parseListQuery(u *url.URL) (listQuery, error) {
	var (
		q       listQuery
		page    *int
		limit   *int
		wheres  = map[string][]string{}
		order   []string
		orderBy ir.OrderBy
	)

	for _, pair := range strings.Split(u.RawQuery, "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return q, fmt.Errorf("query key %q: %w", rawKey, err)
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return q, fmt.Errorf("query value of %q: %w", key, err)
		}

		switch {
		case key == "page":
			n, err := strconv.Atoi(value)
			if err != nil {
				return q, fmt.Errorf("page must be an integer")
			}
			page = &n
		case key == "limit":
			n, err := strconv.Atoi(value)
			if err != nil {
				return q, fmt.Errorf("limit must be an integer")
			}
			limit = &n
		case strings.HasPrefix(key, "where."):
			field := strings.TrimPrefix(key, "where.")
			if _, seen := wheres[field]; !seen {
				order = append(order, field)
			}
			wheres[field] = append(wheres[field], value)
		case strings.HasPrefix(key, "orderBy."):
			orderBy = append(orderBy, ir.OrderTerm{Field: strings.TrimPrefix(key, "orderBy."), Direction: value})
		case key == "includes":
			for _, path := range strings.Split(value, ",") {
				if path = strings.TrimSpace(path); path != "" {
					q.contract.Includes = addInclude(q.contract.Includes, strings.Split(path, "."))
				}
			}
		}
	}

	if len(order) > 0 {
		q.contract.Where = make(ir.Where, len(order))
		for _, field := range order {
			vals := wheres[field]
			if len(vals) == 1 {
				q.contract.Where[field] = ir.String(vals[0])
				continue
			}
			list := make(ir.List, len(vals))
			for i, v := range vals {
				list[i] = ir.String(v)
			}
			q.contract.Where[field] = list
		}
	}
	q.contract.OrderBy = orderBy
	q.contract = q.contract.External()

	if page != nil || limit != nil {
		p := repository.Pagination{ResourceURL: resourceURL(u)}
		if page != nil {
			p.Page = *page
		}
		if limit != nil {
			p.Limit = *limit
		}
		q.pagination = &p
	}
	return q, nil
}

// addInclude merges one relation path into an include tree.
func addInclude(includes []ir.Include, path []string) []ir.Include {
	if len(path) == 0 {
		return includes
	}
	for i := range includes {
		if includes[i].Relation == path[0] {
			includes[i].Includes = addInclude(includes[i].Includes, path[1:])
			return includes
		}
	}
	inc := ir.Include{Relation: path[0]}
	inc.Includes = addInclude(nil, path[1:])
	return append(includes, inc)
}

// resourceURL is u without its page and limit parameters, the base of
// pagination links.
func resourceURL(u *url.URL) string {
	base := *u
	q := base.Query()
	q.Del("page")
	q.Del("limit")
	base.RawQuery = q.Encode()
	return base.String()
}
