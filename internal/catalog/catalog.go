package catalog

import (
	"encoding/json"
	"fmt"
)

// Ref resolves a question back to its position in the catalog tree.
type Ref struct {
	IndicatorCode string
	Question      *Question
	SubSection    *SubSection
	Section       *Section
}

// Location returns the canonical "{indicatorCode}/{linkId}" address
// used by validation issues.
func (r *Ref) Location() string {
	return r.IndicatorCode + "/" + r.Question.LinkID
}

// Catalog is the loaded, indexed questionnaire tree. It is built once at
// startup and never mutated afterwards, so it is safe for concurrent reads.
type Catalog struct {
	questionnaire *Questionnaire
	byLocation    map[string]*Ref
	byIndicator   map[string][]*Ref
	indicators    []string
}

// Load parses and indexes a catalog document. It verifies linkId
// uniqueness, known response types and roles, and that every
// subordinate-count question has a total-count sibling in the same
// sub-section to compare against.
func Load(data []byte) (*Catalog, error) {
	var q Questionnaire
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return build(&q)
}

func build(q *Questionnaire) (*Catalog, error) {
	c := &Catalog{
		questionnaire: q,
		byLocation:    make(map[string]*Ref),
		byIndicator:   make(map[string][]*Ref),
	}

	for si := range q.Sections {
		sec := &q.Sections[si]
		if sec.Code == "" {
			return nil, fmt.Errorf("section %d: missing indicator code", si)
		}
		if _, ok := c.byIndicator[sec.Code]; ok {
			return nil, fmt.Errorf("duplicate indicator code %q", sec.Code)
		}
		switch sec.Category {
		case CategoryClinical, CategoryExperience, CategoryWorkforce:
		default:
			return nil, fmt.Errorf("indicator %s: unknown category %q", sec.Code, sec.Category)
		}

		c.indicators = append(c.indicators, sec.Code)
		c.byIndicator[sec.Code] = []*Ref{}

		for bi := range sec.SubSections {
			sub := &sec.SubSections[bi]
			if err := c.indexSubSection(sec, sub); err != nil {
				return nil, err
			}
		}
	}

	return c, nil
}

func (c *Catalog) indexSubSection(sec *Section, sub *SubSection) error {
	var hasTotal, hasSubordinate bool

	for qi := range sub.Questions {
		question := &sub.Questions[qi]
		if question.Role == "" {
			question.Role = RoleNone
		}

		switch question.ResponseType {
		case ResponseInteger, ResponseString, ResponseDate, ResponseBoolean:
		default:
			return fmt.Errorf("question %s: unknown response type %q", question.LinkID, question.ResponseType)
		}

		switch question.Role {
		case RoleNone:
		case RoleTotalCount, RoleSubordinateCount:
			if question.ResponseType != ResponseInteger {
				return fmt.Errorf("question %s: role %s requires integer response type", question.LinkID, question.Role)
			}
			if question.Role == RoleTotalCount {
				hasTotal = true
			} else {
				hasSubordinate = true
			}
		case RoleRate:
			if question.ResponseType != ResponseInteger {
				return fmt.Errorf("question %s: role %s requires integer response type", question.LinkID, question.Role)
			}
		case RoleComment:
			if question.ResponseType != ResponseString {
				return fmt.Errorf("question %s: role comment requires string response type", question.LinkID)
			}
		default:
			return fmt.Errorf("question %s: unknown role %q", question.LinkID, question.Role)
		}

		ref := &Ref{
			IndicatorCode: sec.Code,
			Question:      question,
			SubSection:    sub,
			Section:       sec,
		}
		loc := ref.Location()
		if _, ok := c.byLocation[loc]; ok {
			return fmt.Errorf("duplicate question %s", loc)
		}
		c.byLocation[loc] = ref
		c.byIndicator[sec.Code] = append(c.byIndicator[sec.Code], ref)
	}

	if hasSubordinate && !hasTotal {
		return fmt.Errorf("indicator %s sub-section %s: subordinate-count without a total-count sibling", sec.Code, sub.Code)
	}

	return nil
}

// Questionnaire returns the underlying catalog tree.
func (c *Catalog) Questionnaire() *Questionnaire { return c.questionnaire }

// Indicators returns all indicator codes in catalog order.
func (c *Catalog) Indicators() []string {
	out := make([]string, len(c.indicators))
	copy(out, c.indicators)
	return out
}

// Lookup resolves a question by indicator code and linkId.
func (c *Catalog) Lookup(indicatorCode, linkID string) (*Ref, bool) {
	ref, ok := c.byLocation[indicatorCode+"/"+linkID]
	return ref, ok
}

// Indicator returns all question refs for one indicator in catalog order.
func (c *Catalog) Indicator(code string) ([]*Ref, bool) {
	refs, ok := c.byIndicator[code]
	return refs, ok
}

// Questions returns every question ref in the catalog in tree order.
func (c *Catalog) Questions() []*Ref {
	var out []*Ref
	for _, code := range c.indicators {
		out = append(out, c.byIndicator[code]...)
	}
	return out
}

// TotalFor returns the total-count question in the same sub-section as
// the given ref, if one is declared.
func (c *Catalog) TotalFor(ref *Ref) (*Ref, bool) {
	return c.roleSibling(ref, RoleTotalCount)
}

// CommentFor returns the comment question in the same sub-section as the
// given ref, if one is declared.
func (c *Catalog) CommentFor(ref *Ref) (*Ref, bool) {
	return c.roleSibling(ref, RoleComment)
}

func (c *Catalog) roleSibling(ref *Ref, role Role) (*Ref, bool) {
	for _, sibling := range c.byIndicator[ref.IndicatorCode] {
		if sibling.SubSection == ref.SubSection && sibling.Question.Role == role {
			return sibling, true
		}
	}
	return nil, false
}
