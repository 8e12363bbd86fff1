package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func sampleDocument() Document {
	d := NewDocument("c-1", 794, 1123)
	d.Title = "In memoriam"
	d.Fields["fullname"] = Style{AttrX: 40.0, AttrY: 40.0, AttrWidth: 280.0, AttrContent: "Erika Mustermann", AttrFontSize: 32.0}
	d.Collections[CollectionGallery] = []Item{
		{ID: "g0", Kind: KindImage, Style: Style{AttrX: 40.0, AttrY: 200.0, AttrWidth: 150.0, AttrHeight: 150.0, AttrSourceRef: "canvases/c-1/a.jpg"}},
		{ID: "g1", Kind: KindImage, Style: Style{AttrOpacity: 80.0}},
	}
	return d
}

func TestDocumentJSONRoundTrip(t *testing.T) {
	d := sampleDocument()
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Document
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Title != d.Title || len(got.Collections[CollectionGallery]) != 2 {
		t.Fatalf("unexpected document: %+v", got)
	}
	if w, ok := got.Fields["fullname"].Float(AttrWidth); !ok || w != 280 {
		t.Fatalf("width lost in round trip: %v %v", w, ok)
	}
	if s, _ := got.Collections[CollectionGallery][0].Style.Str(AttrSourceRef); s != "canvases/c-1/a.jpg" {
		t.Fatalf("sourceRef lost: %q", s)
	}
}

func TestCloneIsDeep(t *testing.T) {
	d := sampleDocument()
	c := d.Clone()
	c.Fields["fullname"][AttrX] = 99.0
	c.Collections[CollectionGallery][1].Style[AttrOpacity] = 10.0
	c.Collections[CollectionGallery] = append(c.Collections[CollectionGallery], Item{ID: "g2"})
	if x, _ := d.Fields["fullname"].Float(AttrX); x != 40 {
		t.Fatalf("field style shared with clone")
	}
	if o, _ := d.Collections[CollectionGallery][1].Style.Float(AttrOpacity); o != 80 {
		t.Fatalf("item style shared with clone")
	}
	if len(d.Collections[CollectionGallery]) != 2 {
		t.Fatalf("collection slice shared with clone")
	}
}

func TestNormalizeAndAccessors(t *testing.T) {
	if v := Normalize(50); v != 50.0 {
		t.Fatalf("Normalize(int) = %#v", v)
	}
	if v := Normalize(float32(1.5)); v != 1.5 {
		t.Fatalf("Normalize(float32) = %#v", v)
	}
	if v := Normalize(AlignCenter); v != "center" {
		t.Fatalf("Normalize(Align) = %#v", v)
	}
	if v := Normalize(true); v != true {
		t.Fatalf("Normalize(bool) = %#v", v)
	}
	s := Style{AttrBold: true}
	if b, ok := s.Bool(AttrBold); !ok || !b {
		t.Fatalf("Bool accessor failed")
	}
	if _, ok := s.Float(AttrBold); ok {
		t.Fatalf("Float on bool should fail")
	}
	if !KindVideo.IsMedia() || KindText.IsMedia() || Kind("sticker").Valid() {
		t.Fatalf("kind helpers mismatch")
	}
}

func TestValidateAcceptsDocument(t *testing.T) {
	if err := Validate(sampleDocument()); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsBadDocuments(t *testing.T) {
	cases := map[string]string{
		"missing fields":  `{"id":"c","width":10,"height":10,"collections":{}}`,
		"negative x":      `{"id":"c","width":10,"height":10,"fields":{"name":{"x":-1}},"collections":{}}`,
		"font too small":  `{"id":"c","width":10,"height":10,"fields":{"name":{"fontSize":4}},"collections":{}}`,
		"unknown kind":    `{"id":"c","width":10,"height":10,"fields":{},"collections":{"symbol":[{"id":"s","kind":"sticker"}]}}`,
		"bad color":       `{"id":"c","width":10,"height":10,"fields":{"name":{"color":"red"}},"collections":{}}`,
		"bad collection":  `{"id":"c","width":10,"height":10,"fields":{},"collections":{"Gallery-1":[]}}`,
		"opacity too big": `{"id":"c","width":10,"height":10,"fields":{"n":{"opacity":101}},"collections":{}}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			err := ValidateJSON([]byte(doc))
			if !errors.Is(err, ErrInvalidDocument) {
				t.Fatalf("expected ErrInvalidDocument, got %v", err)
			}
		})
	}
}
