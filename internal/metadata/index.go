package metadata

import (
	"fmt"
	"runtime"
	"slices"
	"sort"

	"golang.org/x/sync/errgroup"

	"permission-explorer/internal/memo"
)

// DefaultSearchCacheSize bounds the memoized visible-table search.
const DefaultSearchCacheSize = 20

// PathRef addresses one filter node of one table. Table holds the table's
// key (see TableIndex.Key).
type PathRef struct {
	Table string `json:"table"`
	Path  string `json:"path"`
}

// Highlight is the set of filter nodes sharing the hash of a selected node.
type Highlight struct {
	Hash string    `json:"hash"`
	Refs []PathRef `json:"refs"`
}

// Index is the parsed form of one metadata document. It is immutable; a new
// document means a new Index.
type Index struct {
	tables   []*TableIndex
	byKey    map[string]*TableIndex
	byName   map[string]*TableIndex
	roles    []string
	hashRefs map[string][]PathRef
	err      *ParseError

	visible *memo.Memoizer[Search, []string]
}

type options struct {
	concurrency     int
	searchCacheSize int
}

// Option configures Parse.
type Option func(*options)

// WithConcurrency bounds how many tables are indexed in parallel. Zero or less
// means GOMAXPROCS; one indexes sequentially.
func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

// WithSearchCacheSize sets the capacity of the visible-table search cache.
func WithSearchCacheSize(n int) Option {
	return func(o *options) { o.searchCacheSize = n }
}

// Parse indexes a decoded metadata document. It never panics: when the
// document cannot be parsed the returned Index is empty and Err reports why.
func Parse(doc any, opts ...Option) (ix *Index) {
	o := options{searchCacheSize: DefaultSearchCacheSize}
	for _, opt := range opts {
		opt(&o)
	}

	ix = &Index{
		byKey:    make(map[string]*TableIndex),
		byName:   make(map[string]*TableIndex),
		hashRefs: make(map[string][]PathRef),
	}
	ix.visible = memo.New(ix.visibleTableKeys, o.searchCacheSize)

	defer func() {
		if r := recover(); r != nil {
			ix.fail(parseFailure(fmt.Errorf("panic: %v", r)))
		}
	}()

	sources, ok := locateSources(doc)
	if !ok {
		ix.fail(shapeError())
		return ix
	}

	records, err := decodeSources(sources)
	if err != nil {
		ix.fail(parseFailure(err))
		return ix
	}

	ix.roles = collectRoles(records)

	tables, err := buildTables(records, ix.roles, o.concurrency)
	if err != nil {
		ix.fail(parseFailure(err))
		return ix
	}
	ix.tables = tables
	assignKeys(tables)

	for _, t := range tables {
		ix.byKey[t.key] = t
		if _, dup := ix.byName[t.name]; !dup {
			ix.byName[t.name] = t
		}
		paths := make([]string, 0, len(t.pathHashes))
		for p := range t.pathHashes {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			h := t.pathHashes[p]
			ix.hashRefs[h] = append(ix.hashRefs[h], PathRef{Table: t.key, Path: p})
		}
	}
	return ix
}

func (ix *Index) fail(err *ParseError) {
	ix.tables = nil
	ix.roles = nil
	ix.byKey = make(map[string]*TableIndex)
	ix.byName = make(map[string]*TableIndex)
	ix.hashRefs = make(map[string][]PathRef)
	ix.err = err
}

// assignKeys gives every table a document-unique key. A table whose name is
// unique keeps it; otherwise the name is qualified as source:schema.name,
// with a #n suffix if even that repeats.
func assignKeys(tables []*TableIndex) {
	counts := make(map[string]int, len(tables))
	for _, t := range tables {
		counts[t.name]++
	}
	taken := make(map[string]int, len(tables))
	for _, t := range tables {
		key := t.name
		if counts[t.name] > 1 {
			key = qualifiedName(t.source, t.schema, t.name)
		}
		taken[key]++
		if n := taken[key]; n > 1 {
			key = fmt.Sprintf("%s#%d", key, n)
		}
		t.key = key
	}
}

func qualifiedName(source, schema, name string) string {
	if schema != "" {
		name = schema + "." + name
	}
	return source + ":" + name
}

// collectRoles returns the sorted union of every rule's role in the document.
func collectRoles(records []TableRecord) []string {
	seen := make(map[string]struct{})
	roles := []string{}
	for _, rec := range records {
		for _, op := range Operations {
			for _, r := range rec.Rules[op] {
				if _, ok := seen[r.Role]; ok {
					continue
				}
				seen[r.Role] = struct{}{}
				roles = append(roles, r.Role)
			}
		}
	}
	sort.Strings(roles)
	return roles
}

// buildTables indexes every record. Tables share no mutable state, so they
// are built in parallel up to limit goroutines.
func buildTables(records []TableRecord, roles []string, limit int) ([]*TableIndex, error) {
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	tables := make([]*TableIndex, len(records))

	var g errgroup.Group
	g.SetLimit(limit)
	for i := range records {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("index table %q: %v", records[i].Name, r)
				}
			}()
			tables[i] = NewTableIndex(records[i], roles)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tables, nil
}

// Tables returns the indexed tables in document order.
func (ix *Index) Tables() []*TableIndex { return ix.tables }

// Roles returns the sorted global role list.
func (ix *Index) Roles() []string { return ix.roles }

// Err returns the *ParseError recorded while parsing, or nil.
func (ix *Index) Err() error {
	if ix.err == nil {
		return nil
	}
	return ix.err
}

// ErrorMessage returns the user-facing parse error, or "".
func (ix *Index) ErrorMessage() string {
	if ix.err == nil {
		return ""
	}
	return ix.err.Message
}

// Table resolves ref as a table key and then as a bare name, returning the
// first table declared under that name. It returns nil when neither matches.
func (ix *Index) Table(ref string) *TableIndex {
	if t, ok := ix.byKey[ref]; ok {
		return t
	}
	return ix.byName[ref]
}

// TableKeys returns every table key in document order.
func (ix *Index) TableKeys() []string {
	keys := make([]string, len(ix.tables))
	for i, t := range ix.tables {
		keys[i] = t.key
	}
	return keys
}

// TableNames returns every table name in document order.
func (ix *Index) TableNames() []string {
	names := make([]string, len(ix.tables))
	for i, t := range ix.tables {
		names[i] = t.name
	}
	return names
}

// VisibleTableNames returns, in document order, the tables with at least one
// field matching the search. Results are memoized per argument triple.
func (ix *Index) VisibleTableNames(query string, exactMatch, caseSensitive bool) []string {
	keys := ix.visible.Call(Search{Query: query, ExactMatch: exactMatch, CaseSensitive: caseSensitive})
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = ix.byKey[k].name
	}
	return names
}

// VisibleTableKeys is VisibleTableNames returning table keys, which stay
// distinct when several sources or schemas declare the same table name.
func (ix *Index) VisibleTableKeys(query string, exactMatch, caseSensitive bool) []string {
	keys := ix.visible.Call(Search{Query: query, ExactMatch: exactMatch, CaseSensitive: caseSensitive})
	return slices.Clone(keys)
}

func (ix *Index) visibleTableKeys(s Search) []string {
	keys := []string{}
	for _, t := range ix.tables {
		if t.HasVisibleFields(s) {
			keys = append(keys, t.key)
		}
	}
	return keys
}

// SearchCacheLen reports how many searches are cached.
func (ix *Index) SearchCacheLen() int { return ix.visible.Len() }

// ClearSearchCache drops every cached search.
func (ix *Index) ClearSearchCache() { ix.visible.Clear() }

// PathsWithHash returns every filter node in the document with the given
// content hash, ordered by table then path.
func (ix *Index) PathsWithHash(hash string) []PathRef {
	return ix.hashRefs[hash]
}

// Highlight resolves the node at path in table (a key or name) and returns every node in the
// document structurally equal to it.
func (ix *Index) Highlight(table, path string) (Highlight, bool) {
	t := ix.Table(table)
	if t == nil {
		return Highlight{}, false
	}
	h, ok := t.HashForPath(path)
	if !ok {
		return Highlight{}, false
	}
	return Highlight{Hash: h, Refs: ix.hashRefs[h]}, true
}
