// Package htmlmod exposes a small HTML parsing helper inside the guest,
// backed by goquery on the host side. It is the only pre-approved utility
// module: scripts get selector-based reads over response bodies without any
// network or filesystem reach.
package htmlmod

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
)

// Object builds the guest-visible html helper object on the given runtime.
//
// Guest usage:
//
//	var doc = html.parse(res.body);
//	doc.text("h1");          // text content of first match
//	doc.attr("a", "href");   // attribute of first match, or null
//	doc.count(".item");      // number of matches
//	doc.each("li", fn);      // fn(index, text) per match
func Object(vm *goja.Runtime) *goja.Object {
	obj := vm.NewObject()
	_ = obj.Set("parse", func(call goja.FunctionCall) goja.Value {
		src := call.Argument(0).String()
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
		if err != nil {
			panic(vm.ToValue(map[string]any{"message": "html parse failed: " + err.Error()}))
		}
		return documentObject(vm, doc)
	})
	return obj
}

func documentObject(vm *goja.Runtime, doc *goquery.Document) *goja.Object {
	obj := vm.NewObject()

	_ = obj.Set("text", func(call goja.FunctionCall) goja.Value {
		sel := doc.Find(call.Argument(0).String())
		return vm.ToValue(strings.TrimSpace(sel.First().Text()))
	})

	_ = obj.Set("attr", func(call goja.FunctionCall) goja.Value {
		sel := doc.Find(call.Argument(0).String()).First()
		if v, ok := sel.Attr(call.Argument(1).String()); ok {
			return vm.ToValue(v)
		}
		return goja.Null()
	})

	_ = obj.Set("html", func(call goja.FunctionCall) goja.Value {
		sel := doc.Find(call.Argument(0).String()).First()
		h, err := sel.Html()
		if err != nil {
			return goja.Null()
		}
		return vm.ToValue(h)
	})

	_ = obj.Set("count", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(doc.Find(call.Argument(0).String()).Length())
	})

	_ = obj.Set("each", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(1))
		if !ok {
			panic(vm.ToValue(map[string]any{"message": "each requires a callback"}))
		}
		doc.Find(call.Argument(0).String()).Each(func(i int, sel *goquery.Selection) {
			_, _ = fn(goja.Undefined(), vm.ToValue(i), vm.ToValue(strings.TrimSpace(sel.Text())))
		})
		return goja.Undefined()
	})

	return obj
}
