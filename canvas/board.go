// Package canvas replays canvas operations into visible elements and keeps
// the undo/redo stacks every participant mirrors.
package canvas

import (
	"slices"
	"sort"

	"realtime-canvas/backend/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Element is one visible item on the board.
type Element struct {
	ID        string             `json:"id"`
	OpID      string             `json:"opId"` // operation that created it
	Type      models.OpType      `json:"opType"`
	Payload   models.Payload     `json:"payload"`
	CreatedBy primitive.ObjectID `json:"createdBy"`
	Finalized bool               `json:"finalized"`
	seq       int
}

type record struct {
	elementID string
	element   *Element
}

// Board is the replicated state of one room's canvas. It is not safe for
// concurrent use.
type Board struct {
	elements map[string]*Element
	seq      int

	applied []string // creating op ids, undo source
	undone  []string // redo source
	records map[string]*record
}

func NewBoard() *Board {
	b := &Board{}
	b.reset()
	return b
}

// Replay builds a board from ops in log order.
func Replay(ops []models.Operation) *Board {
	b := NewBoard()
	for i := range ops {
		b.Apply(&ops[i])
	}
	return b
}

func (b *Board) reset() {
	b.elements = make(map[string]*Element)
	b.applied = nil
	b.undone = nil
	b.records = make(map[string]*record)
}

// Apply folds one operation, local or remote, into the board. It reports
// whether the visible state or the stacks changed. Operations that reference
// unknown elements or targets are ignored.
func (b *Board) Apply(op *models.Operation) bool {
	switch op.Type {
	case models.OpDrawStart, models.OpShapeStart, models.OpTextAdd, models.OpImageAdd:
		return b.create(op)
	case models.OpDrawMove:
		return b.extendStroke(op)
	case models.OpDrawEnd:
		return b.finishStroke(op)
	case models.OpShapeUpdate, models.OpShapeEnd:
		return b.reshape(op)
	case models.OpUndo:
		if t, ok := op.Payload.(*models.TargetPayload); ok {
			return b.undo(t.TargetOpID)
		}
	case models.OpRedo:
		if t, ok := op.Payload.(*models.TargetPayload); ok {
			return b.redo(t.TargetOpID)
		}
	case models.OpClear:
		b.reset()
		return true
	}
	return false
}

func elementKey(op *models.Operation) string {
	if id := models.ElementID(op.Payload); id != "" {
		return id
	}
	return op.OpID
}

func (b *Board) create(op *models.Operation) bool {
	if _, seen := b.records[op.OpID]; seen {
		return false
	}
	key := elementKey(op)
	b.seq++
	el := &Element{
		ID:        key,
		OpID:      op.OpID,
		Type:      op.Type,
		Payload:   clonePayload(op.Payload),
		CreatedBy: op.CreatedBy,
		Finalized: op.Type == models.OpTextAdd || op.Type == models.OpImageAdd,
		seq:       b.seq,
	}
	b.elements[key] = el
	b.records[op.OpID] = &record{elementID: key, element: el}
	b.applied = append(b.applied, op.OpID)
	b.undone = nil
	return true
}

func (b *Board) extendStroke(op *models.Operation) bool {
	p, ok := op.Payload.(*models.StrokePayload)
	if !ok {
		return false
	}
	el, ok := b.elements[elementKey(op)]
	if !ok {
		return false
	}
	stroke, ok := el.Payload.(*models.StrokePayload)
	if !ok || el.Finalized {
		return false
	}
	stroke.Points = append(stroke.Points, p.Points...)
	return true
}

func (b *Board) finishStroke(op *models.Operation) bool {
	p, ok := op.Payload.(*models.StrokePayload)
	if !ok {
		return false
	}
	el, ok := b.elements[elementKey(op)]
	if !ok {
		return false
	}
	stroke, ok := el.Payload.(*models.StrokePayload)
	if !ok {
		return false
	}
	if len(p.Points) > 0 {
		stroke.Points = slices.Clone(p.Points)
	}
	el.Finalized = true
	return true
}

func (b *Board) reshape(op *models.Operation) bool {
	p, ok := op.Payload.(*models.ShapePayload)
	if !ok {
		return false
	}
	el, ok := b.elements[elementKey(op)]
	if !ok {
		return false
	}
	shape, ok := el.Payload.(*models.ShapePayload)
	if !ok {
		return false
	}
	if op.Type == models.OpShapeEnd && p.Shape.Type != "" {
		shape.Shape = p.Shape
	} else {
		mergeShape(&shape.Shape, p.Shape)
	}
	if op.Type == models.OpShapeEnd {
		el.Finalized = true
	}
	return true
}

func mergeShape(dst *models.Shape, src models.Shape) {
	if src.Type != "" {
		dst.Type = src.Type
	}
	dst.X, dst.Y = src.X, src.Y
	if src.Width != 0 {
		dst.Width = src.Width
	}
	if src.Height != 0 {
		dst.Height = src.Height
	}
	if src.Radius != 0 {
		dst.Radius = src.Radius
	}
	if src.Fill != "" {
		dst.Fill = src.Fill
	}
	if src.Stroke != "" {
		dst.Stroke = src.Stroke
	}
	if src.StrokeWidth != 0 {
		dst.StrokeWidth = src.StrokeWidth
	}
	if src.Text != "" {
		dst.Text = src.Text
	}
	if src.FontSize != 0 {
		dst.FontSize = src.FontSize
	}
	if src.FontFamily != "" {
		dst.FontFamily = src.FontFamily
	}
}

func (b *Board) undo(target string) bool {
	rec, ok := b.records[target]
	if !ok {
		return false
	}
	i := slices.Index(b.applied, target)
	if i < 0 {
		return false
	}
	b.applied = slices.Delete(b.applied, i, i+1)
	b.undone = append(b.undone, target)
	if cur, ok := b.elements[rec.elementID]; ok && cur == rec.element {
		delete(b.elements, rec.elementID)
	}
	return true
}

func (b *Board) redo(target string) bool {
	rec, ok := b.records[target]
	if !ok || slices.Contains(b.applied, target) {
		return false
	}
	if i := slices.Index(b.undone, target); i >= 0 {
		b.undone = slices.Delete(b.undone, i, i+1)
	}
	b.applied = append(b.applied, target)
	b.elements[rec.elementID] = rec.element
	return true
}

// Revert forgets the creation opID as if it had never been applied: its
// element is removed and it leaves both stacks. It reports whether opID was
// known.
func (b *Board) Revert(opID string) bool {
	rec, ok := b.records[opID]
	if !ok {
		return false
	}
	if cur, ok := b.elements[rec.elementID]; ok && cur == rec.element {
		delete(b.elements, rec.elementID)
	}
	b.applied = slices.DeleteFunc(b.applied, func(id string) bool { return id == opID })
	b.undone = slices.DeleteFunc(b.undone, func(id string) bool { return id == opID })
	delete(b.records, opID)
	return true
}

// Undo undoes the most recently applied operation and returns the undo
// operation to broadcast. ok is false when there is nothing to undo.
func (b *Board) Undo() (op *models.Operation, ok bool) {
	if len(b.applied) == 0 {
		return nil, false
	}
	return b.local(models.OpUndo, b.applied[len(b.applied)-1]), true
}

// Redo re-applies the most recently undone operation and returns the redo
// operation to broadcast.
func (b *Board) Redo() (op *models.Operation, ok bool) {
	if len(b.undone) == 0 {
		return nil, false
	}
	return b.local(models.OpRedo, b.undone[len(b.undone)-1]), true
}

// Clear empties the board and returns the clear operation to broadcast.
func (b *Board) Clear() *models.Operation {
	op := &models.Operation{OpID: uuid.NewString(), Type: models.OpClear, Payload: &models.ClearPayload{}}
	b.Apply(op)
	return op
}

func (b *Board) local(t models.OpType, target string) *models.Operation {
	op := &models.Operation{
		OpID:    uuid.NewString(),
		Type:    t,
		Payload: &models.TargetPayload{TargetOpID: target},
	}
	b.Apply(op)
	return op
}

// Elements returns the visible elements ordered by z-index, then creation.
func (b *Board) Elements() []Element {
	out := make([]Element, 0, len(b.elements))
	for _, el := range b.elements {
		cp := *el
		cp.Payload = clonePayload(el.Payload)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		zi, zj := zIndex(out[i].Payload), zIndex(out[j].Payload)
		if zi != zj {
			return zi < zj
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// Element returns the visible element with the given id.
func (b *Board) Element(id string) (Element, bool) {
	el, ok := b.elements[id]
	if !ok {
		return Element{}, false
	}
	cp := *el
	cp.Payload = clonePayload(el.Payload)
	return cp, true
}

// Depth returns the sizes of the applied and undone stacks.
func (b *Board) Depth() (applied, undone int) {
	return len(b.applied), len(b.undone)
}

// Known reports whether the board has seen the creation of opID.
func (b *Board) Known(opID string) bool {
	_, ok := b.records[opID]
	return ok
}

func zIndex(p models.Payload) int {
	switch v := p.(type) {
	case *models.StrokePayload:
		return v.ZIndex
	case *models.ShapePayload:
		return v.ZIndex
	case *models.TextPayload:
		return v.ZIndex
	case *models.ImagePayload:
		return v.ZIndex
	}
	return 0
}

func clonePayload(p models.Payload) models.Payload {
	switch v := p.(type) {
	case *models.StrokePayload:
		cp := *v
		cp.Points = slices.Clone(v.Points)
		return &cp
	case *models.ShapePayload:
		cp := *v
		return &cp
	case *models.TextPayload:
		cp := *v
		return &cp
	case *models.ImagePayload:
		cp := *v
		return &cp
	case *models.TargetPayload:
		cp := *v
		return &cp
	}
	return p
}
