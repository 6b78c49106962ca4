package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

// BlockType is the editor.js tool name of a block.
type BlockType string

const (
	BlockHeader     BlockType = "header"
	BlockParagraph  BlockType = "paragraph"
	BlockList       BlockType = "list"
	BlockImage      BlockType = "image"
	BlockMarker     BlockType = "marker"
	BlockDelimiter  BlockType = "delimiter"
	BlockInlineCode BlockType = "inlineCode"
	BlockWarning    BlockType = "warning"
	BlockQuote      BlockType = "quote"
)

// BlockData is the payload of one block. The set of implementations is closed;
// unknown block types decode into RawData.
type BlockData interface {
	blockType() BlockType
}

type HeaderData struct {
	Text  string `json:"text"`
	Level int    `json:"level"`
}

type ParagraphData struct {
	Text string `json:"text"`
}

type ListData struct {
	Style string   `json:"style"`
	Items []string `json:"items"`
}

// ImageFile is the file reference of an image block. A non-nil Key marks an
// image that still lives in the local draft store.
type ImageFile struct {
	URL string
	Key *LocalImageKey
	// Extra keeps file fields other than url and key, such as width.
	Extra map[string]json.RawMessage
}

type imageFileJSON struct {
	URL string         `json:"url"`
	Key *LocalImageKey `json:"key,omitempty"`
}

var imageFileKeys = jsonFieldNames(imageFileJSON{})

func (f ImageFile) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(imageFileJSON{URL: f.URL, Key: f.Key}, f.Extra, imageFileKeys)
}

func (f *ImageFile) UnmarshalJSON(data []byte) error {
	var in imageFileJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	extra, err := extraMembers(data, imageFileKeys)
	if err != nil {
		return err
	}
	*f = ImageFile{URL: in.URL, Key: in.Key, Extra: extra}
	return nil
}

type ImageData struct {
	File           ImageFile `json:"file"`
	Caption        string    `json:"caption"`
	WithBorder     bool      `json:"withBorder"`
	WithBackground bool      `json:"withBackground"`
	Stretched      bool      `json:"stretched"`
}

// IsLocal reports whether the image still references a local blob.
func (d ImageData) IsLocal() bool {
	return d.File.Key != nil
}

type MarkerData struct {
	Text string `json:"text"`
}

type DelimiterData struct{}

type InlineCodeData struct {
	Text string `json:"text"`
}

type WarningData struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

type QuoteData struct {
	Text      string `json:"text"`
	Caption   string `json:"caption"`
	Alignment string `json:"alignment"`
}

// RawData carries the payload of a block type this client does not know.
type RawData struct {
	Type    BlockType
	Payload json.RawMessage
}

func (HeaderData) blockType() BlockType     { return BlockHeader }
func (ParagraphData) blockType() BlockType  { return BlockParagraph }
func (ListData) blockType() BlockType       { return BlockList }
func (ImageData) blockType() BlockType      { return BlockImage }
func (MarkerData) blockType() BlockType     { return BlockMarker }
func (DelimiterData) blockType() BlockType  { return BlockDelimiter }
func (InlineCodeData) blockType() BlockType { return BlockInlineCode }
func (WarningData) blockType() BlockType    { return BlockWarning }
func (QuoteData) blockType() BlockType      { return BlockQuote }
func (d RawData) blockType() BlockType      { return d.Type }

// Block is one editor block. Fields the typed payload does not declare are
// kept and written back unchanged.
type Block struct {
	ID   string
	Data BlockData
	// Extra holds top-level members other than id, type and data, such as
	// tunes.
	Extra map[string]json.RawMessage

	dataExtra map[string]json.RawMessage
}

// NewBlock wraps data in a Block.
func NewBlock(data BlockData) Block {
	return Block{Data: data}
}

// Type returns the editor tool name of the block.
func (b Block) Type() BlockType {
	if b.Data == nil {
		return ""
	}
	return b.Data.blockType()
}

// WithData returns b carrying data in place of its payload. Unknown members
// of the old payload are kept.
func (b Block) WithData(data BlockData) Block {
	b.Data = data
	return b
}

// Image returns the image payload when b is an image block.
func (b Block) Image() (ImageData, bool) {
	d, ok := b.Data.(ImageData)
	return d, ok
}

type blockJSON struct {
	ID   string          `json:"id,omitempty"`
	Type BlockType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

var blockKeys = jsonFieldNames(blockJSON{})

func (b Block) MarshalJSON() ([]byte, error) {
	if b.Data == nil {
		return nil, fmt.Errorf("block has no data")
	}
	var payload json.RawMessage
	if raw, ok := b.Data.(RawData); ok {
		payload = raw.Payload
		if len(payload) == 0 {
			payload = json.RawMessage("{}")
		}
	} else {
		encoded, err := marshalWithExtra(b.Data, b.dataExtra, jsonFieldNames(b.Data))
		if err != nil {
			return nil, err
		}
		payload = encoded
	}
	return marshalWithExtra(blockJSON{ID: b.ID, Type: b.Type(), Data: payload}, b.Extra, blockKeys)
}

func (b *Block) UnmarshalJSON(data []byte) error {
	var in blockJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if strings.TrimSpace(string(in.Type)) == "" {
		return fmt.Errorf("block type is required")
	}
	extra, err := extraMembers(data, blockKeys)
	if err != nil {
		return err
	}
	payload := in.Data
	if len(bytes.TrimSpace(payload)) == 0 || bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
		payload = json.RawMessage("{}")
	}

	decoded, err := decodeBlockData(in.Type, payload)
	if err != nil {
		return fmt.Errorf("decode %s block: %w", in.Type, err)
	}
	var dataExtra map[string]json.RawMessage
	if _, raw := decoded.(RawData); !raw {
		if dataExtra, err = extraMembers(payload, jsonFieldNames(decoded)); err != nil {
			return fmt.Errorf("decode %s block: %w", in.Type, err)
		}
	}
	*b = Block{ID: in.ID, Data: decoded, Extra: extra, dataExtra: dataExtra}
	return nil
}

func decodeBlockData(t BlockType, payload json.RawMessage) (BlockData, error) {
	switch t {
	case BlockHeader:
		var d HeaderData
		err := json.Unmarshal(payload, &d)
		return d, err
	case BlockParagraph:
		var d ParagraphData
		err := json.Unmarshal(payload, &d)
		return d, err
	case BlockList:
		var d ListData
		err := json.Unmarshal(payload, &d)
		return d, err
	case BlockImage:
		var d ImageData
		err := json.Unmarshal(payload, &d)
		return d, err
	case BlockMarker:
		var d MarkerData
		err := json.Unmarshal(payload, &d)
		return d, err
	case BlockDelimiter:
		return DelimiterData{}, nil
	case BlockInlineCode:
		var d InlineCodeData
		err := json.Unmarshal(payload, &d)
		return d, err
	case BlockWarning:
		var d WarningData
		err := json.Unmarshal(payload, &d)
		return d, err
	case BlockQuote:
		var d QuoteData
		err := json.Unmarshal(payload, &d)
		return d, err
	default:
		var buf bytes.Buffer
		if err := json.Compact(&buf, payload); err != nil {
			return nil, err
		}
		return RawData{Type: t, Payload: json.RawMessage(buf.Bytes())}, nil
	}
}

// jsonFieldNames returns the JSON member names declared by the struct v.
func jsonFieldNames(v any) []string {
	t := reflect.TypeOf(v)
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}
	names := make([]string, 0, t.NumField())
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			continue
		case "":
			name = f.Name
		}
		names = append(names, name)
	}
	return names
}

// extraMembers returns the members of the JSON object data not named in
// known, compacted. It returns nil when there are none.
func extraMembers(data []byte, known []string) (map[string]json.RawMessage, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, err
	}
	var extra map[string]json.RawMessage
	for name, value := range members {
		if slices.Contains(known, name) {
			continue
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, value); err != nil {
			return nil, err
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[name] = json.RawMessage(buf.Bytes())
	}
	return extra, nil
}

// marshalWithExtra encodes v and adds the members of extra that v does not
// declare.
func marshalWithExtra(v any, extra map[string]json.RawMessage, known []string) ([]byte, error) {
	encoded, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return encoded, err
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &members); err != nil {
		return nil, err
	}
	for name, value := range extra {
		if slices.Contains(known, name) {
			continue
		}
		members[name] = value
	}
	return json.Marshal(members)
}

// LocalImageKey identifies an image held by the local draft store.
type LocalImageKey string

func (k LocalImageKey) String() string {
	return string(k)
}

// UnmarshalJSON accepts string keys and the numeric keys written by older
// drafts.
func (k *LocalImageKey) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*k = LocalImageKey(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("image key must be a string or number: %w", err)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return fmt.Errorf("image key must be a string or number: %w", err)
	}
	*k = LocalImageKey(n.String())
	return nil
}
