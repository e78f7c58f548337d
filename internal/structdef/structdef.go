// Package structdef compiles CUE structure definition documents into
// place/category/item definitions. Admins can author the whole inspection
// tree as one document and import it instead of clicking through the
// structure endpoints row by row.
package structdef

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/stakahashi/tenken/internal/types"
)

//go:embed schema.cue
var schemaSource string

// ItemDef is a declared inspection item before it has an id or order.
type ItemDef struct {
	Label          string
	Type           types.ItemType
	StandardValue  *float64
	ErrorThreshold *float64
}

type CategoryDef struct {
	Name  string
	Items []ItemDef
}

type PlaceDef struct {
	Name       string
	Categories []CategoryDef
}

// Compile parses a CUE document, unifies it with the embedded schema and
// decodes the places list. Document order is preserved.
func Compile(src string) ([]PlaceDef, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	doc := ctx.CompileString(src, cue.Filename("structure.cue"))
	if err := doc.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	merged := schema.Unify(doc)
	if err := merged.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	placesVal := merged.LookupPath(cue.ParsePath("places"))
	if !placesVal.Exists() {
		return nil, &CompileError{
			Field:   "places",
			Message: "places list is required",
			Pos:     merged.Pos(),
		}
	}

	var places []PlaceDef
	iter, err := placesVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		place, err := parsePlace(iter.Value())
		if err != nil {
			return nil, err
		}
		places = append(places, place)
	}
	return places, nil
}

func parsePlace(v cue.Value) (PlaceDef, error) {
	var place PlaceDef

	name, err := v.LookupPath(cue.ParsePath("name")).String()
	if err != nil {
		return place, formatCUEError(err)
	}
	place.Name = name

	catsVal := v.LookupPath(cue.ParsePath("categories"))
	if !catsVal.Exists() {
		return place, nil
	}
	iter, err := catsVal.List()
	if err != nil {
		return place, formatCUEError(err)
	}
	for iter.Next() {
		cat, err := parseCategory(iter.Value())
		if err != nil {
			return place, err
		}
		place.Categories = append(place.Categories, cat)
	}
	return place, nil
}

func parseCategory(v cue.Value) (CategoryDef, error) {
	var cat CategoryDef

	name, err := v.LookupPath(cue.ParsePath("name")).String()
	if err != nil {
		return cat, formatCUEError(err)
	}
	cat.Name = name

	itemsVal := v.LookupPath(cue.ParsePath("items"))
	if !itemsVal.Exists() {
		return cat, nil
	}
	iter, err := itemsVal.List()
	if err != nil {
		return cat, formatCUEError(err)
	}
	for iter.Next() {
		item, err := parseItem(iter.Value())
		if err != nil {
			return cat, err
		}
		cat.Items = append(cat.Items, item)
	}
	return cat, nil
}

func parseItem(v cue.Value) (ItemDef, error) {
	var item ItemDef

	label, err := v.LookupPath(cue.ParsePath("label")).String()
	if err != nil {
		return item, formatCUEError(err)
	}
	item.Label = label

	kind, err := v.LookupPath(cue.ParsePath("type")).String()
	if err != nil {
		return item, formatCUEError(err)
	}
	item.Type = types.ItemType(kind)

	stdVal := v.LookupPath(cue.ParsePath("standard"))
	if stdVal.Exists() {
		std, err := stdVal.Float64()
		if err != nil {
			return item, formatCUEError(err)
		}
		item.StandardValue = &std
	}

	thrVal := v.LookupPath(cue.ParsePath("threshold"))
	if thrVal.Exists() {
		thr, err := thrVal.Float64()
		if err != nil {
			return item, formatCUEError(err)
		}
		item.ErrorThreshold = &thr
	}

	if item.Type == types.ItemNumber && (item.StandardValue == nil || item.ErrorThreshold == nil) {
		return item, &CompileError{
			Field:   fmt.Sprintf("items.%s", label),
			Message: "number items need both standard and threshold",
			Pos:     v.Pos(),
		}
	}
	if item.Type == types.ItemCheckbox && (item.StandardValue != nil || item.ErrorThreshold != nil) {
		return item, &CompileError{
			Field:   fmt.Sprintf("items.%s", label),
			Message: "checkbox items take no standard or threshold",
			Pos:     v.Pos(),
		}
	}
	return item, nil
}

// CompileError is a structure definition error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	positions := cueerrors.Positions(first)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
