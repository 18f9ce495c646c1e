// internal/state/meta_test.go
package state

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/user/wahub/internal/types"
)

func TestMetaLogAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "meta.jsonl")
	meta := NewMetaLog(path)

	entries := []*MetaEntry{
		{TS: 1, Op: "send", ID: "a", HTTP: 200, To: "4915551234", Text: "hi", PhoneNumberID: "p1",
			Meta: &types.SendReceipt{WaID: "4915551234", MessageID: "wamid.1"}},
		{TS: 2, Op: "send", ID: "b", HTTP: 400, To: "4915551234", Text: "hi", PhoneNumberID: "p1",
			Error: &types.SendFailure{Code: 131030, Message: "recipient not in allowed list"}},
	}
	for _, e := range entries {
		if err := meta.Append(e); err != nil {
			t.Fatal(err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var got []MetaEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e MetaEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatal(err)
		}
		got = append(got, e)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Meta == nil || got[0].Meta.MessageID != "wamid.1" {
		t.Errorf("expected receipt on first entry, got %+v", got[0].Meta)
	}
	if got[1].Error == nil || got[1].Error.Code != 131030 {
		t.Errorf("expected failure on second entry, got %+v", got[1].Error)
	}
	if got[1].Meta != nil {
		t.Error("failed entry should not carry a receipt")
	}
}
