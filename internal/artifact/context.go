package artifact

import (
	"fmt"
	"path"
	"strings"
	"unicode/utf8"
)

// Unresolved is the content recorded for a context reference that maps to no project file.
const Unresolved = "// unresolved: no source found for this reference"

const perRefCap = 32 * 1024

// ContextFile is a resolved context reference.
type ContextFile struct {
	Ref      string
	Path     string
	Content  string
	Resolved bool
}

// ContextResolver turns generator-requested references into bounded source text.
type ContextResolver struct {
	store    *FileStore
	symbols  *SymbolIndex
	ext      string
	maxRefs  int
	maxBytes int
}

// NewContextResolver bounds resolution to maxRefs references and maxBytes of content (0 = unbounded).
func NewContextResolver(store *FileStore, ext string, maxRefs, maxBytes int) *ContextResolver {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return &ContextResolver{
		store:    store,
		symbols:  NewSymbolIndex(store.Root(), ext, 0),
		ext:      ext,
		maxRefs:  maxRefs,
		maxBytes: maxBytes,
	}
}

// Normalize deduplicates refs, drops blanks and applies the reference cap, keeping first-seen order.
func (r *ContextResolver) Normalize(refs []string) []string {
	seen := make(map[string]struct{}, len(refs))
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		if r.maxRefs > 0 && len(out) >= r.maxRefs {
			break
		}
		out = append(out, ref)
	}
	return out
}

// Resolve reads every reference, trying path candidates first and then the file
// declaring the named symbol. A reference that cannot be read degrades to the
// Unresolved placeholder; resolution stops once the byte budget is spent.
func (r *ContextResolver) Resolve(refs []string) []ContextFile {
	var (
		total int
		out   []ContextFile
	)
	for _, ref := range r.Normalize(refs) {
		cf := ContextFile{Ref: ref, Content: Unresolved}
		for _, cand := range r.candidates(ref) {
			if info, err := r.store.Stat(cand); err != nil || info.IsDir() {
				continue
			}
			content, err := r.store.ReadFile(cand)
			if err != nil {
				continue
			}
			cf.Path, cf.Content, cf.Resolved = cand, content, true
			break
		}
		if !cf.Resolved {
			r.resolveSymbol(&cf)
		}
		if r.appendWithBudget(&out, cf, &total) {
			break
		}
	}
	return out
}

// resolveSymbol falls back to the file declaring the reference's last segment.
func (r *ContextResolver) resolveSymbol(cf *ContextFile) {
	rel := r.symbols.Lookup(symbolName(cf.Ref, r.ext))
	if rel == "" {
		return
	}
	content, err := r.store.ReadFile(rel)
	if err != nil {
		return
	}
	cf.Path, cf.Content, cf.Resolved = rel, content, true
}

func (r *ContextResolver) candidates(ref string) []string {
	clean := strings.TrimPrefix(path.Clean(strings.ReplaceAll(ref, "\\", "/")), "/")
	out := []string{clean}
	if path.Ext(clean) == "" && r.ext != "" {
		out = append(out, clean+r.ext)
	}
	// Dotted qualified names map onto directories: a.b.c -> a/b/c<ext>.
	if strings.Contains(clean, ".") && !strings.Contains(clean, "/") {
		dotted := strings.ReplaceAll(strings.TrimSuffix(clean, r.ext), ".", "/")
		out = append(out, dotted+r.ext)
	}
	return out
}

func (r *ContextResolver) appendWithBudget(out *[]ContextFile, cf ContextFile, total *int) bool {
	limit := perRefCap
	if r.maxBytes > 0 {
		remaining := r.maxBytes - *total
		if remaining <= 0 {
			return true
		}
		if remaining < limit {
			limit = remaining
		}
	}
	if len(cf.Content) > limit {
		for limit > 0 && !utf8.RuneStart(cf.Content[limit]) {
			limit--
		}
		cf.Content = cf.Content[:limit] + "\n[truncated]"
	}
	*out = append(*out, cf)
	*total += len(cf.Content)
	return r.maxBytes > 0 && *total >= r.maxBytes
}

// String renders a context file header for logs.
func (c ContextFile) String() string {
	state := "resolved"
	if !c.Resolved {
		state = "unresolved"
	}
	return fmt.Sprintf("%s (%s, %d bytes)", c.Ref, state, len(c.Content))
}
