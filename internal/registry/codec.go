package registry

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	frontmatterDelim = "---"
	fileExt          = ".md"
	idWidth          = 3
)

// FileName builds the on-disk name for a unit: {id}-{status}-{slug}.md.
// The status token is the only part the registry ever changes; a rename is
// a transition.
func FileName(u *WorkUnit) string {
	return fmt.Sprintf("%s-%s-%s%s", u.ID, u.Status, Slug(u.Title), fileExt)
}

// ParseFileName extracts the ID and status from a unit file name. The slug
// is cosmetic and ignored.
func ParseFileName(name string) (id string, status Status, err error) {
	base := strings.TrimSuffix(name, fileExt)
	if base == name {
		return "", "", fmt.Errorf("%w: %q is not a unit file", ErrCorruptRecord, name)
	}
	parts := strings.SplitN(base, "-", 3)
	if len(parts) < 2 {
		return "", "", fmt.Errorf("%w: malformed name %q", ErrCorruptRecord, name)
	}
	if _, convErr := strconv.Atoi(parts[0]); convErr != nil {
		return "", "", fmt.Errorf("%w: non-numeric id in %q", ErrCorruptRecord, name)
	}
	st := Status(parts[1])
	if !st.Valid() {
		return "", "", fmt.Errorf("%w: unknown status in %q", ErrCorruptRecord, name)
	}
	return parts[0], st, nil
}

// FormatID renders a numeric ID zero-padded for lexicographic ordering.
func FormatID(n int) string {
	return fmt.Sprintf("%0*d", idWidth, n)
}

// Encode renders a unit as YAML frontmatter followed by its markdown body.
func Encode(u *WorkUnit) ([]byte, error) {
	meta, err := yaml.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("marshaling frontmatter: %w", err)
	}
	var sb strings.Builder
	sb.WriteString(frontmatterDelim + "\n")
	sb.Write(meta)
	sb.WriteString(frontmatterDelim + "\n")
	if u.Body != "" {
		sb.WriteString("\n")
		sb.WriteString(u.Body)
		if !strings.HasSuffix(u.Body, "\n") {
			sb.WriteString("\n")
		}
	}
	return []byte(sb.String()), nil
}

// Decode parses a unit file back into a WorkUnit.
func Decode(data []byte) (*WorkUnit, error) {
	text := string(data)
	if !strings.HasPrefix(text, frontmatterDelim+"\n") {
		return nil, fmt.Errorf("%w: missing frontmatter", ErrCorruptRecord)
	}
	rest := text[len(frontmatterDelim)+1:]
	end := strings.Index(rest, "\n"+frontmatterDelim)
	if end < 0 {
		return nil, fmt.Errorf("%w: unterminated frontmatter", ErrCorruptRecord)
	}
	var u WorkUnit
	if err := yaml.Unmarshal([]byte(rest[:end]), &u); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	body := rest[end+len("\n"+frontmatterDelim):]
	body = strings.TrimPrefix(body, "\n")
	body = strings.TrimPrefix(body, "\n")
	u.Body = strings.TrimRight(body, "\n")
	if u.Body != "" {
		u.Body += "\n"
	}
	return &u, nil
}
