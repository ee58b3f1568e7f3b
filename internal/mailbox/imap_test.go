package mailbox

import (
	"testing"
)

func TestEmailID_RoundTrip(t *testing.T) {
	id := EmailID("INBOX", 1714995200, 4711)
	if id != "INBOX:1714995200:4711" {
		t.Fatalf("id: %q", id)
	}

	folder, validity, uid, err := ParseEmailID(id)
	if err != nil {
		t.Fatalf("ParseEmailID: %v", err)
	}
	if folder != "INBOX" || validity != 1714995200 || uid != 4711 {
		t.Errorf("round trip mismatch: %s %d %d", folder, validity, uid)
	}
}

func TestParseEmailID_FolderWithColon(t *testing.T) {
	// Some servers expose hierarchical folder names with separators.
	id := EmailID("Archive:2024", 7, 99)
	folder, validity, uid, err := ParseEmailID(id)
	if err != nil {
		t.Fatalf("ParseEmailID: %v", err)
	}
	if folder != "Archive:2024" || validity != 7 || uid != 99 {
		t.Errorf("got %s %d %d", folder, validity, uid)
	}
}

func TestParseEmailID_Malformed(t *testing.T) {
	for _, id := range []string{"", "INBOX", "INBOX:1", "INBOX:x:y", "INBOX:1:notanumber"} {
		if _, _, _, err := ParseEmailID(id); err == nil {
			t.Errorf("expected error for %q", id)
		}
	}
}

func TestStripTags(t *testing.T) {
	html := `<html><body><p>Hello <b>world</b></p><br>bye</body></html>`
	got := stripTags(html)
	if got != "Hello worldbye" {
		t.Errorf("got %q", got)
	}
}
