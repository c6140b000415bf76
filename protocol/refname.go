package protocol

import (
	"errors"
	"strings"
)

// RefName is a parsed, validated ref name.
type RefName struct {
	// FullName is the raw refname, "refs/" prefix included ("HEAD" for HEAD).
	FullName string
	// Category is the namespace segment after "refs/", e.g. "heads" or
	// "tags", without a trailing slash. "HEAD" for HEAD.
	Category string
	// Location is everything after the category, e.g. "main" or
	// "feature/test". Note a ref named "refs/x/HEAD" also has Location
	// "HEAD"; check FullName to identify the real HEAD.
	Location string
}

// HEAD is the one refname valid without a "refs/" prefix: the symbolic
// ref naming the current branch.
var HEAD = RefName{
	FullName: "HEAD",
	Category: "HEAD",
	Location: "HEAD",
}

// ParseRefName validates in against the rules of
// git-check-ref-format(1) and splits it into its category and location.
// Beyond the special case of HEAD, a valid name starts with "refs/",
// has at least a category and a location component, and avoids the
// byte sequences git reserves: "..", "@{", consecutive or trailing
// slashes, a trailing dot, components starting with "." or ending in
// ".lock", and the control/metacharacter set rejected below.
func ParseRefName(in string) (RefName, error) {
	if in == "HEAD" {
		return HEAD, nil
	}

	rn := RefName{FullName: in}
	rest, ok := strings.CutPrefix(in, "refs/")
	if !ok {
		return rn, errors.New("ref name does not include refs/ prefix")
	}

	category, location, ok := strings.Cut(rest, "/")
	if !ok {
		return rn, errors.New("ref name does not include a category")
	}

	switch {
	case strings.Contains(rest, ".."):
		return rn, errors.New("ref cannot contain two consecutive dots")
	case strings.Contains(rest, "//"):
		return rn, errors.New("ref cannot contain consecutive slashes")
	case strings.Contains(rest, "@{"):
		return rn, errors.New("ref cannot contain the sequence @{")
	case strings.HasSuffix(rest, "."):
		return rn, errors.New("ref cannot end with a dot")
	}

	for _, component := range strings.Split(rest, "/") {
		if err := checkRefComponent(component); err != nil {
			return rn, err
		}
	}

	rn.Category = category
	rn.Location = location
	return rn, nil
}

func checkRefComponent(component string) error {
	switch {
	case component == "":
		return errors.New("ref components cannot be empty")
	case component == "@":
		return errors.New("ref components cannot be the single character @")
	case strings.HasPrefix(component, "."):
		return errors.New("ref components cannot begin with a dot")
	case strings.HasSuffix(component, ".lock"):
		return errors.New("ref components cannot end with .lock")
	}

	if strings.ContainsFunc(component, isForbiddenRefRune) {
		return errors.New("ref components cannot contain control characters, spaces, or any of ~ ^ : ? * [ \\")
	}
	return nil
}

func isForbiddenRefRune(r rune) bool {
	if r < 0o040 || r == 0o177 {
		return true
	}
	switch r {
	case ' ', '~', '^', ':', '?', '*', '[', '\\':
		return true
	}
	return false
}
