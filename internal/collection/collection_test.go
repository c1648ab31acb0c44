package collection

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/quailhq/quail/internal/qerr"
)

const sampleDoc = `
name: petstore
vars:
  base: "https://petstore.example.com"
environments:
  local:
    vars:
      host: "localhost:8080"
    secrets:
      apiKey: "hunter2"
  staging:
    vars:
      host: "staging.example.com"
script:
  pre-request: |
    bru.setVar("stamp", Date.now());
requests:
  - name: health
    url: "{{base}}/health"
folders:
  - name: pets
    vars:
      resource: pets
    script:
      pre-request: |
        bru.setFolderVar && null;
    requests:
      - name: list-pets
        seq: 2
        method: GET
        url: "{{base}}/{{resource}}"
        script:
          tests: |
            test("lists", function () {});
      - name: create-pet
        seq: 1
        method: POST
        url: "{{base}}/{{resource}}"
        headers:
          Content-Type: application/json
        body:
          name: rex
`

func writeDoc(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "collection.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Run("parses the full document", func(t *testing.T) {
		col, err := Load(writeDoc(t, sampleDoc))
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if col.Name != "petstore" {
			t.Errorf("name = %q", col.Name)
		}
		if col.Vars["base"] != "https://petstore.example.com" {
			t.Errorf("vars = %v", col.Vars)
		}
		if len(col.Folders) != 1 || len(col.Folders[0].Requests) != 2 {
			t.Fatalf("folders = %+v", col.Folders)
		}
		if col.Script.PreRequest == "" {
			t.Error("collection script missing")
		}
		if col.Dir == "" {
			t.Error("Dir not recorded")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		if !qerr.Is(err, qerr.ErrCollectionNotFound) {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Load(writeDoc(t, "name: [unclosed"))
		if !qerr.Is(err, qerr.ErrCollectionInvalid) {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("validation failures", func(t *testing.T) {
		cases := []struct {
			name string
			doc  string
		}{
			{"no collection name", "requests:\n  - name: a\n    url: x\n"},
			{"request without name", "name: c\nrequests:\n  - url: x\n"},
			{"request without url", "name: c\nrequests:\n  - name: a\n"},
			{"duplicate names", "name: c\nrequests:\n  - name: a\n    url: x\n  - name: a\n    url: y\n"},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				if _, err := Load(writeDoc(t, tc.doc)); !qerr.Is(err, qerr.ErrCollectionInvalid) {
					t.Errorf("error = %v", err)
				}
			})
		}
	})
}

func TestEnvironment(t *testing.T) {
	col, err := Load(writeDoc(t, sampleDoc))
	if err != nil {
		t.Fatal(err)
	}

	t.Run("found", func(t *testing.T) {
		env, err := col.Environment("local")
		if err != nil {
			t.Fatalf("Environment() error = %v", err)
		}
		if env.Vars["host"] != "localhost:8080" {
			t.Errorf("vars = %v", env.Vars)
		}
		if env.Secrets["apiKey"] != "hunter2" {
			t.Errorf("secrets = %v", env.Secrets)
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := col.Environment("production")
		if !qerr.Is(err, qerr.ErrEnvironmentNotFound) {
			t.Errorf("error = %v", err)
		}
	})
}

func TestSequence(t *testing.T) {
	t.Run("sequenced first, then document order", func(t *testing.T) {
		col, err := Load(writeDoc(t, sampleDoc))
		if err != nil {
			t.Fatal(err)
		}
		entries := col.Sequence()
		var names []string
		for _, e := range entries {
			names = append(names, e.Request.Name)
		}
		// seq orders create-pet before list-pets; health has no seq and
		// follows the sequenced entries.
		want := []string{"create-pet", "list-pets", "health"}
		for i := range want {
			if i >= len(names) || names[i] != want[i] {
				t.Fatalf("sequence = %v, want %v", names, want)
			}
		}
		if entries[0].Folder == nil || entries[0].Folder.Name != "pets" {
			t.Errorf("folder binding = %+v", entries[0].Folder)
		}
	})

	t.Run("unsequenced entry between sequenced ones does not block ordering", func(t *testing.T) {
		col, err := Load(writeDoc(t, `
name: ordering
requests:
  - name: late
    seq: 3
    url: "https://a/3"
  - name: free
    url: "https://a/free"
  - name: early
    seq: 1
    url: "https://a/1"
`))
		if err != nil {
			t.Fatal(err)
		}
		var names []string
		for _, e := range col.Sequence() {
			names = append(names, e.Request.Name)
		}
		want := []string{"early", "late", "free"}
		for i := range want {
			if i >= len(names) || names[i] != want[i] {
				t.Fatalf("sequence = %v, want %v", names, want)
			}
		}
	})
}

func TestFind(t *testing.T) {
	col, err := Load(writeDoc(t, sampleDoc))
	if err != nil {
		t.Fatal(err)
	}
	entry, err := col.Find("create-pet")
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if entry.Request.Method != "POST" {
		t.Errorf("method = %q", entry.Request.Method)
	}
	if _, err := col.Find("missing"); !qerr.Is(err, qerr.ErrRequestNotFound) {
		t.Errorf("error = %v", err)
	}
}
