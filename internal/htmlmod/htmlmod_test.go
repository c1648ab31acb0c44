package htmlmod

import (
	"testing"

	"github.com/dop251/goja"
)

const page = `<html><body>
<h1> Title </h1>
<a href="/next" class="link">next</a>
<ul><li>one</li><li>two</li></ul>
</body></html>`

func newVM(t *testing.T) *goja.Runtime {
	t.Helper()
	vm := goja.New()
	vm.Set("html", Object(vm))
	vm.Set("page", page)
	return vm
}

func TestParse(t *testing.T) {
	vm := newVM(t)

	t.Run("text", func(t *testing.T) {
		v, err := vm.RunString(`html.parse(page).text("h1")`)
		if err != nil {
			t.Fatalf("RunString error = %v", err)
		}
		if v.String() != "Title" {
			t.Errorf("text = %q, want %q", v.String(), "Title")
		}
	})

	t.Run("attr present", func(t *testing.T) {
		v, err := vm.RunString(`html.parse(page).attr("a.link", "href")`)
		if err != nil {
			t.Fatalf("RunString error = %v", err)
		}
		if v.String() != "/next" {
			t.Errorf("attr = %q, want %q", v.String(), "/next")
		}
	})

	t.Run("attr missing is null", func(t *testing.T) {
		v, err := vm.RunString(`html.parse(page).attr("a.link", "rel")`)
		if err != nil {
			t.Fatalf("RunString error = %v", err)
		}
		if !goja.IsNull(v) {
			t.Errorf("attr = %v, want null", v)
		}
	})

	t.Run("count", func(t *testing.T) {
		v, err := vm.RunString(`html.parse(page).count("li")`)
		if err != nil {
			t.Fatalf("RunString error = %v", err)
		}
		if v.ToInteger() != 2 {
			t.Errorf("count = %d, want 2", v.ToInteger())
		}
	})

	t.Run("each collects", func(t *testing.T) {
		v, err := vm.RunString(`
			var items = [];
			html.parse(page).each("li", function (i, text) { items.push(text); });
			items.join(",")
		`)
		if err != nil {
			t.Fatalf("RunString error = %v", err)
		}
		if v.String() != "one,two" {
			t.Errorf("items = %q, want %q", v.String(), "one,two")
		}
	})
}
