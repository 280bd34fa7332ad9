// Package testutil provides fake management servers for tests.
package testutil

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
)

// Catalog holds the objects, layers and rules served by the mock servers.
type Catalog struct {
	mu         sync.Mutex
	objects    map[string][]map[string]any
	layers     []map[string]any
	rules      map[string][]map[string]any
	dictionary map[string][]map[string]any
	failures   map[string]int
	noTotal    map[string]bool
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		objects:    make(map[string][]map[string]any),
		rules:      make(map[string][]map[string]any),
		dictionary: make(map[string][]map[string]any),
		failures:   make(map[string]int),
		noTotal:    make(map[string]bool),
	}
}

// AddObjects appends objects to a category.
func (c *Catalog) AddObjects(category string, objs ...map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[category] = append(c.objects[category], objs...)
}

// AddLayer adds an access layer with its rules and the object dictionary
// returned with every rule base page.
func (c *Catalog) AddLayer(layer map[string]any, rules, dictionary []map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	uid := fmt.Sprint(layer["uid"])
	c.layers = append(c.layers, layer)
	c.rules[uid] = append(c.rules[uid], rules...)
	c.dictionary[uid] = append(c.dictionary[uid], dictionary...)
}

// FailCategory makes every show command of category fail with status.
func (c *Catalog) FailCategory(category string, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[category] = status
}

// OmitTotal drops the "total" field from the pages of category.
func (c *Catalog) OmitTotal(category string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noTotal[category] = true
}

// Show answers a show command with a page body and an HTTP status.
func (c *Catalog) Show(category string, params map[string]any) (map[string]any, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if status, ok := c.failures[category]; ok {
		return errorBody("generic_server_error", fmt.Sprintf("show-%s failed", category)), status
	}

	limit := toInt(params["limit"], 50)
	offset := toInt(params["offset"], 0)

	var items []map[string]any
	var body map[string]any
	switch category {
	case "access-layers":
		items = c.layers
		body = map[string]any{}
	case "access-rulebase":
		uid := fmt.Sprint(params["uid"])
		rules, ok := c.rules[uid]
		if !ok {
			return errorBody("generic_err_object_not_found", "Requested object ["+uid+"] not found"), http.StatusNotFound
		}
		items = rules
		body = map[string]any{
			"uid":                uid,
			"objects-dictionary": c.dictionary[uid],
		}
	default:
		items = c.objects[category]
		body = map[string]any{}
	}

	page := slice(items, offset, limit)
	switch category {
	case "access-layers":
		body["access-layers"] = page
	case "access-rulebase":
		body["rulebase"] = page
	default:
		body["objects"] = page
	}
	body["from"] = offset + 1
	body["to"] = offset + len(page)
	if !c.noTotal[category] {
		body["total"] = len(items)
	}
	return body, http.StatusOK
}

func slice(items []map[string]any, offset, limit int) []map[string]any {
	if offset >= len(items) {
		return []map[string]any{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func errorBody(code, message string) map[string]any {
	return map[string]any{"code": code, "message": message}
}

func toInt(v any, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return def
}

// Objects returns n objects of the given type with uids "<prefix>-<i>".
func Objects(prefix, typ string, n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{
			"uid":  fmt.Sprintf("%s-%03d", prefix, i),
			"name": fmt.Sprintf("%s_%d", prefix, i),
			"type": typ,
		}
	}
	return out
}
