package policy

import (
	"strings"
)

func containsFold(list []string, v string) bool {
	v = strings.TrimSpace(v)
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), v) {
			return true
		}
	}
	return false
}

// overlapSubjects returns the subjects both lists cover, or nil.
func overlapSubjects(a, b []Subject) []Subject {
	var out []Subject
	for _, sa := range a {
		for _, sb := range b {
			switch {
			case sa.Type == SubjectEveryone && sb.Type == SubjectEveryone:
				out = append(out, Subject{Type: SubjectEveryone})
			case sa.Type == SubjectEveryone:
				out = append(out, sb)
			case sb.Type == SubjectEveryone:
				out = append(out, sa)
			case sa.Type == sb.Type:
				var shared []string
				for _, id := range sa.Identifiers {
					if containsFold(sb.Identifiers, id) {
						shared = append(shared, id)
					}
				}
				if len(shared) > 0 {
					out = append(out, Subject{Type: sa.Type, Identifiers: shared})
				}
			}
		}
	}
	return out
}

// matchPath reports whether pattern covers path. A pattern ending in "/*"
// covers its base and everything below it; "*" covers everything.
func matchPath(pattern, path string) bool {
	if pattern == "*" || pattern == "/*" {
		return true
	}
	if pattern == path {
		return true
	}
	if base, ok := strings.CutSuffix(pattern, "/*"); ok {
		return path == base || strings.HasPrefix(path, base+"/")
	}
	return false
}

func pathsOverlap(a, b string) bool {
	return matchPath(a, b) || matchPath(b, a)
}

// overlapMethods returns the shared methods; nil with ok=true means all.
func overlapMethods(a, b []string) ([]string, bool) {
	allA := len(a) == 0 || containsFold(a, "*")
	allB := len(b) == 0 || containsFold(b, "*")
	switch {
	case allA && allB:
		return nil, true
	case allA:
		return b, true
	case allB:
		return a, true
	}
	var shared []string
	for _, m := range a {
		if containsFold(b, m) {
			shared = append(shared, strings.ToUpper(m))
		}
	}
	return shared, len(shared) > 0
}

func resourcesOverlap(a, b Resource) (Resource, bool) {
	idMatch := a.ID != "" && a.ID == b.ID
	pathMatch := a.Path != "" && b.Path != "" && pathsOverlap(a.Path, b.Path)
	if !idMatch && !pathMatch {
		return Resource{}, false
	}
	methods, ok := overlapMethods(a.Methods, b.Methods)
	if !ok {
		return Resource{}, false
	}
	// report the narrower of the two
	r := a
	if len(b.Path) > len(a.Path) {
		r = b
	}
	r.Methods = methods
	return r, true
}

func overlapResources(a, b []Resource) []Resource {
	var out []Resource
	for _, ra := range a {
		for _, rb := range b {
			if r, ok := resourcesOverlap(ra, rb); ok {
				out = append(out, r)
			}
		}
	}
	return out
}

func expandLevels(levels []AccessLevel) map[AccessLevel]bool {
	set := make(map[AccessLevel]bool, len(AllAccessLevels))
	if len(levels) == 0 {
		for _, l := range AllAccessLevels {
			set[l] = true
		}
		return set
	}
	for _, l := range levels {
		if l == AccessFull {
			for _, all := range AllAccessLevels {
				set[all] = true
			}
			return set
		}
		set[l] = true
	}
	return set
}

func coversLevel(levels []AccessLevel, l AccessLevel) bool {
	return expandLevels(levels)[l]
}

// overlapLevels returns the shared access levels in canonical order.
func overlapLevels(a, b []AccessLevel) []AccessLevel {
	ea, eb := expandLevels(a), expandLevels(b)
	var out []AccessLevel
	for _, l := range AllAccessLevels {
		if ea[l] && eb[l] {
			out = append(out, l)
		}
	}
	return out
}

func subjectMatchesRequest(s Subject, req Request) bool {
	switch s.Type {
	case SubjectEveryone:
		return true
	case SubjectUser:
		return containsFold(s.Identifiers, req.UserID)
	case SubjectRole:
		for _, r := range req.Roles {
			if containsFold(s.Identifiers, r) {
				return true
			}
		}
	case SubjectGroup:
		for _, g := range req.Groups {
			if containsFold(s.Identifiers, g) {
				return true
			}
		}
	}
	return false
}

func anySubjectMatches(subjects []Subject, req Request) bool {
	for _, s := range subjects {
		if subjectMatchesRequest(s, req) {
			return true
		}
	}
	return false
}

func resourceMatchesTarget(r Resource, t Target) bool {
	idMatch := r.ID != "" && r.ID == t.ResourceID
	pathMatch := r.Path != "" && t.Path != "" && matchPath(r.Path, t.Path)
	if !idMatch && !pathMatch {
		return false
	}
	if t.Method == "" || len(r.Methods) == 0 {
		return true
	}
	return containsFold(r.Methods, "*") || containsFold(r.Methods, t.Method)
}

func anyResourceMatches(resources []Resource, t Target) bool {
	for _, r := range resources {
		if resourceMatchesTarget(r, t) {
			return true
		}
	}
	return false
}
