package magnet

import (
	"net/url"
	"testing"

	"magnetcatalog/internal/document"
)

const (
	magnetA = "magnet:?xt=urn:btih:c12fe1c06bba254a9dc9f519b335aa7c1367a88a&dn=Leo.2023.1080p"
	magnetB = "magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567&dn=Leo.2023.720p"
)

func parse(t *testing.T, body string) *document.Document {
	t.Helper()
	base, _ := url.Parse("https://mirror.example/")
	doc, err := document.FromString(body, base)
	if err != nil {
		t.Fatalf("FromString: %v", err)
	}
	return doc
}

func TestExtractKeepsOrderAndDuplicates(t *testing.T) {
	doc := parse(t, `<a href="`+magnetB+`">b</a><a href="/topic/1">topic</a>
		<a href="`+magnetA+`">a</a><a href="`+magnetB+`">b again</a><a href="MAGNET:?xt=x">upper</a>`)
	got := Extract(doc)
	want := []string{magnetB, magnetA, magnetB}
	if len(got) != len(want) {
		t.Fatalf("Extract = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Extract[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestAssociateSingleMagnetUsesTopicTitle(t *testing.T) {
	doc := parse(t, `<h2>Leo (2023) 1080p WEB-DL Section</h2>`)
	frags := NewAssociator("", 10).Associate(doc, "Leo (2023) Tamil", []string{magnetA})
	if len(frags) != 1 || frags[0].Text != "Leo (2023) Tamil" || frags[0].FromHeading {
		t.Fatalf("unexpected fragments %+v", frags)
	}
}

func TestAssociatePairsHeadingsInOrder(t *testing.T) {
	doc := parse(t, `
		<strong>Leo (2023) [1080p - 2.5GB]</strong><a href="`+magnetA+`">m</a>
		<strong>720p</strong><a href="`+magnetB+`">m</a>`)
	frags := NewAssociator("h2, strong", 10).Associate(doc, "Leo topic title", []string{magnetA, magnetB})
	if len(frags) != 2 {
		t.Fatalf("expected 2 fragments, got %d", len(frags))
	}
	if frags[0].Text != "Leo (2023) [1080p - 2.5GB]" || !frags[0].FromHeading {
		t.Fatalf("first fragment should use heading, got %+v", frags[0])
	}
	// too short to be a useful label
	if frags[1].Text != "Leo topic title" || frags[1].FromHeading {
		t.Fatalf("second fragment should fall back to topic title, got %+v", frags[1])
	}
}

func TestAssociateFallsBackWhenHeadingsAreScarce(t *testing.T) {
	doc := parse(t, `<h2>Only One Long Heading Here</h2>`)
	frags := NewAssociator("h2", 10).Associate(doc, "Topic", []string{magnetA, magnetB})
	for _, f := range frags {
		if f.Text != "Topic" {
			t.Fatalf("expected shared topic title, got %+v", frags)
		}
	}
}

func TestAssociateZeroMagnets(t *testing.T) {
	if frags := NewAssociator("", 10).Associate(parse(t, `<p/>`), "Topic", nil); frags != nil {
		t.Fatalf("expected nil, got %+v", frags)
	}
}

func TestInspect(t *testing.T) {
	info, err := Inspect(magnetA)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if info.InfoHash != "c12fe1c06bba254a9dc9f519b335aa7c1367a88a" {
		t.Fatalf("unexpected info hash %s", info.InfoHash)
	}
	if info.DisplayName != "Leo.2023.1080p" {
		t.Fatalf("unexpected display name %q", info.DisplayName)
	}
	if _, err := Inspect("magnet:?dn=no-hash"); err == nil {
		t.Fatal("expected error for magnet without xt")
	}
}
