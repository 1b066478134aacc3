package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// OpType names a kind of canvas operation.
type OpType string

const (
	OpDrawStart   OpType = "draw:start"
	OpDrawMove    OpType = "draw:move"
	OpDrawEnd     OpType = "draw:end"
	OpShapeStart  OpType = "shape:start"
	OpShapeUpdate OpType = "shape:update"
	OpShapeEnd    OpType = "shape:end"
	OpImageAdd    OpType = "image:add"
	OpTextAdd     OpType = "text:add"
	OpClear       OpType = "clear"
	OpUndo        OpType = "undo"
	OpRedo        OpType = "redo"
)

var opTypes = map[OpType]struct{}{
	OpDrawStart: {}, OpDrawMove: {}, OpDrawEnd: {},
	OpShapeStart: {}, OpShapeUpdate: {}, OpShapeEnd: {},
	OpImageAdd: {}, OpTextAdd: {},
	OpClear: {}, OpUndo: {}, OpRedo: {},
}

// IsValid reports whether t is a known operation type.
func (t OpType) IsValid() bool {
	_, ok := opTypes[t]
	return ok
}

// IsTransient reports whether t is relayed without being stored.
func (t OpType) IsTransient() bool {
	return t == OpDrawMove || t == OpShapeUpdate
}

// CreatesElement reports whether t introduces a new visible element.
func (t OpType) CreatesElement() bool {
	switch t {
	case OpDrawStart, OpShapeStart, OpTextAdd, OpImageAdd:
		return true
	}
	return false
}

// ErrInvalidPayload is returned when a payload does not satisfy its operation type.
var ErrInvalidPayload = errors.New("invalid operation payload")

// Payload is the type-specific body of an operation. The concrete type is
// fixed by the operation type; see NewPayload.
type Payload interface {
	Validate(t OpType) error
}

// NewPayload returns an empty payload of the variant carried by t.
func NewPayload(t OpType) (Payload, error) {
	switch t {
	case OpDrawStart, OpDrawMove, OpDrawEnd:
		return &StrokePayload{}, nil
	case OpShapeStart, OpShapeUpdate, OpShapeEnd:
		return &ShapePayload{}, nil
	case OpTextAdd:
		return &TextPayload{}, nil
	case OpImageAdd:
		return &ImagePayload{}, nil
	case OpUndo, OpRedo:
		return &TargetPayload{}, nil
	case OpClear:
		return &ClearPayload{}, nil
	}
	return nil, fmt.Errorf("unknown operation type %q", t)
}

// Brush describes how a stroke is painted.
type Brush struct {
	Color string  `bson:"color,omitempty" json:"color,omitempty"`
	Size  float64 `bson:"size,omitempty" json:"size,omitempty"`
	Type  string  `bson:"type,omitempty" json:"type,omitempty"` // pen, marker, highlighter
}

// StrokePayload carries freehand drawing. Points is a flat x,y list.
type StrokePayload struct {
	ID      string    `bson:"id,omitempty" json:"id,omitempty"`
	Points  []float64 `bson:"points,omitempty" json:"points,omitempty"`
	Brush   Brush     `bson:"brush" json:"brush"`
	LayerID string    `bson:"layerId,omitempty" json:"layerId,omitempty"`
	ZIndex  int       `bson:"zIndex,omitempty" json:"zIndex,omitempty"`
}

func (p *StrokePayload) Validate(t OpType) error {
	if len(p.Points)%2 != 0 {
		return fmt.Errorf("%w: points must be x,y pairs", ErrInvalidPayload)
	}
	if (t == OpDrawStart || t == OpDrawMove) && len(p.Points) == 0 {
		return fmt.Errorf("%w: %s requires points", ErrInvalidPayload, t)
	}
	return nil
}

// Shape is the geometry of a vector shape.
type Shape struct {
	Type        string  `bson:"type,omitempty" json:"type,omitempty"` // rect, circle, line, arrow, text
	X           float64 `bson:"x" json:"x"`
	Y           float64 `bson:"y" json:"y"`
	Width       float64 `bson:"width,omitempty" json:"width,omitempty"`
	Height      float64 `bson:"height,omitempty" json:"height,omitempty"`
	Radius      float64 `bson:"radius,omitempty" json:"radius,omitempty"`
	Fill        string  `bson:"fill,omitempty" json:"fill,omitempty"`
	Stroke      string  `bson:"stroke,omitempty" json:"stroke,omitempty"`
	StrokeWidth float64 `bson:"strokeWidth,omitempty" json:"strokeWidth,omitempty"`
	Text        string  `bson:"text,omitempty" json:"text,omitempty"`
	FontSize    float64 `bson:"fontSize,omitempty" json:"fontSize,omitempty"`
	FontFamily  string  `bson:"fontFamily,omitempty" json:"fontFamily,omitempty"`
}

var shapeTypes = map[string]bool{"rect": true, "circle": true, "line": true, "arrow": true, "text": true}

// ShapePayload carries a vector shape being created, resized or finalized.
type ShapePayload struct {
	ID      string `bson:"id,omitempty" json:"id,omitempty"`
	Shape   Shape  `bson:"shape" json:"shape"`
	LayerID string `bson:"layerId,omitempty" json:"layerId,omitempty"`
	ZIndex  int    `bson:"zIndex,omitempty" json:"zIndex,omitempty"`
}

func (p *ShapePayload) Validate(t OpType) error {
	if t == OpShapeStart && !shapeTypes[p.Shape.Type] {
		return fmt.Errorf("%w: unknown shape type %q", ErrInvalidPayload, p.Shape.Type)
	}
	if t != OpShapeStart && p.Shape.Type != "" && !shapeTypes[p.Shape.Type] {
		return fmt.Errorf("%w: unknown shape type %q", ErrInvalidPayload, p.Shape.Type)
	}
	return nil
}

// Text is a free-standing text label.
type Text struct {
	Content    string  `bson:"content" json:"content"`
	X          float64 `bson:"x" json:"x"`
	Y          float64 `bson:"y" json:"y"`
	Color      string  `bson:"color,omitempty" json:"color,omitempty"`
	FontSize   float64 `bson:"fontSize,omitempty" json:"fontSize,omitempty"`
	FontFamily string  `bson:"fontFamily,omitempty" json:"fontFamily,omitempty"`
}

// TextPayload carries a text label.
type TextPayload struct {
	ID      string `bson:"id,omitempty" json:"id,omitempty"`
	Text    Text   `bson:"text" json:"text"`
	LayerID string `bson:"layerId,omitempty" json:"layerId,omitempty"`
	ZIndex  int    `bson:"zIndex,omitempty" json:"zIndex,omitempty"`
}

func (p *TextPayload) Validate(OpType) error {
	if p.Text.Content == "" {
		return fmt.Errorf("%w: text content is required", ErrInvalidPayload)
	}
	return nil
}

// Image is a placed raster image referenced by URL.
type Image struct {
	URL      string  `bson:"url" json:"url"`
	X        float64 `bson:"x" json:"x"`
	Y        float64 `bson:"y" json:"y"`
	Width    float64 `bson:"width,omitempty" json:"width,omitempty"`
	Height   float64 `bson:"height,omitempty" json:"height,omitempty"`
	ScaleX   float64 `bson:"scaleX,omitempty" json:"scaleX,omitempty"`
	ScaleY   float64 `bson:"scaleY,omitempty" json:"scaleY,omitempty"`
	Rotation float64 `bson:"rotation,omitempty" json:"rotation,omitempty"`
}

// ImagePayload carries an image placement.
type ImagePayload struct {
	ID      string `bson:"id,omitempty" json:"id,omitempty"`
	Image   Image  `bson:"image" json:"image"`
	LayerID string `bson:"layerId,omitempty" json:"layerId,omitempty"`
	ZIndex  int    `bson:"zIndex,omitempty" json:"zIndex,omitempty"`
}

func (p *ImagePayload) Validate(OpType) error {
	if p.Image.URL == "" {
		return fmt.Errorf("%w: image url is required", ErrInvalidPayload)
	}
	return nil
}

// TargetPayload references the operation an undo or redo applies to.
type TargetPayload struct {
	TargetOpID string `bson:"targetOpId" json:"targetOpId"`
}

func (p *TargetPayload) Validate(t OpType) error {
	if p.TargetOpID == "" {
		return fmt.Errorf("%w: %s requires targetOpId", ErrInvalidPayload, t)
	}
	return nil
}

// ClearPayload is the empty body of a clear operation.
type ClearPayload struct{}

func (*ClearPayload) Validate(OpType) error { return nil }

// ElementID returns the id of the element a payload describes, or "".
func ElementID(p Payload) string {
	switch v := p.(type) {
	case *StrokePayload:
		return v.ID
	case *ShapePayload:
		return v.ID
	case *TextPayload:
		return v.ID
	case *ImagePayload:
		return v.ID
	}
	return ""
}

// Operation is one atomic canvas edit.
type Operation struct {
	ID        primitive.ObjectID `json:"_id,omitempty"`
	RoomID    primitive.ObjectID `json:"roomId"`
	OpID      string             `json:"opId"`
	Type      OpType             `json:"opType"`
	Payload   Payload            `json:"payload"`
	CreatedBy primitive.ObjectID `json:"createdBy"`
	CreatedAt time.Time          `json:"timestamp"`
}

// Validate checks the required fields and the payload variant.
func (o *Operation) Validate() error {
	if o.OpID == "" {
		return fmt.Errorf("%w: opId is required", ErrInvalidPayload)
	}
	if !o.Type.IsValid() {
		return fmt.Errorf("%w: unknown operation type %q", ErrInvalidPayload, o.Type)
	}
	if o.Payload == nil {
		p, _ := NewPayload(o.Type)
		o.Payload = p
	}
	return o.Payload.Validate(o.Type)
}

// DecodePayload decodes raw JSON into the payload variant for t.
// An empty or null body yields the zero value of the variant.
func DecodePayload(t OpType, raw json.RawMessage) (Payload, error) {
	p, err := NewPayload(t)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return p, nil
}

type operationJSON struct {
	ID        *primitive.ObjectID `json:"_id,omitempty"`
	RoomID    string              `json:"roomId"`
	OpID      string              `json:"opId"`
	Type      OpType              `json:"opType"`
	Payload   json.RawMessage     `json:"payload,omitempty"`
	CreatedBy string              `json:"createdBy,omitempty"`
	CreatedAt *time.Time          `json:"timestamp,omitempty"`
}

// MarshalJSON writes the relayed wire form of the operation.
func (o Operation) MarshalJSON() ([]byte, error) {
	aux := operationJSON{OpID: o.OpID, Type: o.Type}
	if !o.ID.IsZero() {
		aux.ID = &o.ID
	}
	if !o.RoomID.IsZero() {
		aux.RoomID = o.RoomID.Hex()
	}
	if !o.CreatedBy.IsZero() {
		aux.CreatedBy = o.CreatedBy.Hex()
	}
	if !o.CreatedAt.IsZero() {
		aux.CreatedAt = &o.CreatedAt
	}
	if o.Payload != nil {
		raw, err := json.Marshal(o.Payload)
		if err != nil {
			return nil, err
		}
		aux.Payload = raw
	}
	return json.Marshal(aux)
}

// UnmarshalJSON decodes the payload into the variant named by opType.
func (o *Operation) UnmarshalJSON(data []byte) error {
	var aux operationJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	payload, err := DecodePayload(aux.Type, aux.Payload)
	if err != nil {
		return err
	}
	*o = Operation{OpID: aux.OpID, Type: aux.Type, Payload: payload}
	if aux.ID != nil {
		o.ID = *aux.ID
	}
	if aux.RoomID != "" {
		if o.RoomID, err = primitive.ObjectIDFromHex(aux.RoomID); err != nil {
			return fmt.Errorf("invalid roomId: %w", err)
		}
	}
	if aux.CreatedBy != "" {
		if o.CreatedBy, err = primitive.ObjectIDFromHex(aux.CreatedBy); err != nil {
			return fmt.Errorf("invalid createdBy: %w", err)
		}
	}
	if aux.CreatedAt != nil {
		o.CreatedAt = *aux.CreatedAt
	}
	return nil
}

type operationBSON struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	RoomID    primitive.ObjectID `bson:"roomId"`
	OpID      string             `bson:"opId"`
	Type      OpType             `bson:"opType"`
	Payload   bson.Raw           `bson:"payload,omitempty"`
	CreatedBy primitive.ObjectID `bson:"createdBy"`
	CreatedAt time.Time          `bson:"createdAt"`
}

// MarshalBSON stores the payload as an embedded document.
func (o Operation) MarshalBSON() ([]byte, error) {
	doc := operationBSON{
		ID:        o.ID,
		RoomID:    o.RoomID,
		OpID:      o.OpID,
		Type:      o.Type,
		CreatedBy: o.CreatedBy,
		CreatedAt: o.CreatedAt,
	}
	if o.Payload != nil {
		raw, err := bson.Marshal(o.Payload)
		if err != nil {
			return nil, err
		}
		doc.Payload = raw
	}
	return bson.Marshal(doc)
}

// UnmarshalBSON restores the payload variant named by opType.
func (o *Operation) UnmarshalBSON(data []byte) error {
	var doc operationBSON
	if err := bson.Unmarshal(data, &doc); err != nil {
		return err
	}
	payload, err := NewPayload(doc.Type)
	if err != nil {
		return err
	}
	if len(doc.Payload) > 0 {
		if err := bson.Unmarshal(doc.Payload, payload); err != nil {
			return err
		}
	}
	*o = Operation{
		ID:        doc.ID,
		RoomID:    doc.RoomID,
		OpID:      doc.OpID,
		Type:      doc.Type,
		Payload:   payload,
		CreatedBy: doc.CreatedBy,
		CreatedAt: doc.CreatedAt,
	}
	return nil
}
