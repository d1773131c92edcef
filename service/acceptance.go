package service

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/fulldump/apitest"
	"github.com/fulldump/biff"
)

type JSON = map[string]interface{}

// lines decodes a JSON lines body.
func lines(resp *apitest.Response) []interface{} {
	result := []interface{}{}
	dec := json.NewDecoder(strings.NewReader(resp.BodyString()))
	for {
		var item interface{}
		err := dec.Decode(&item)
		if err == io.EOF {
			return result
		}
		biff.AssertNil(err)
		result = append(result, item)
	}
}

func Acceptance(a *biff.A, apiRequest func(method, path string) *apitest.Request) {

	alice := JSON{
		"key":    "alice",
		"system": JSON{"nr_ttl": 60},
		"values": JSON{
			"color": "red",
			"tags":  []string{"a", "b"},
			"loc":   []float64{0, 0},
		},
	}

	a.Alternative("Insert record", func(a *biff.A) {
		resp := apiRequest("POST", "/collections/people/records").
			WithBodyJson(alice).Do()

		biff.AssertEqual(resp.StatusCode, http.StatusCreated)
		biff.AssertEqualJson(resp.BodyJson(), alice)

		a.Alternative("Lookup entire record", func(a *biff.A) {
			resp := apiRequest("GET", "/collections/people/records/alice").Do()

			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqualJson(resp.BodyJson(), alice)
		})

		a.Alternative("Lookup fields", func(a *biff.A) {
			resp := apiRequest("GET", "/collections/people/records/alice").
				WithQuery("fields", "color,tags").
				WithQuery("types", "string,list_string").
				WithQuery("system", "nr_ttl").
				WithQuery("systemTypes", "integer").
				Do()

			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqualJson(resp.BodyJson(), JSON{
				"key":    "alice",
				"system": JSON{"nr_ttl": 60},
				"values": JSON{"color": "red", "tags": []string{"a", "b"}},
			})
		})

		a.Alternative("Lookup fields - unknown type", func(a *biff.A) {
			resp := apiRequest("GET", "/collections/people/records/alice").
				WithQuery("fields", "color").
				WithQuery("types", "colour").
				Do()

			biff.AssertEqual(resp.StatusCode, http.StatusBadRequest)
		})

		a.Alternative("Insert twice", func(a *biff.A) {
			resp := apiRequest("POST", "/collections/people/records").
				WithBodyJson(alice).Do()

			biff.AssertEqual(resp.StatusCode, http.StatusConflict)
		})

		a.Alternative("Contains", func(a *biff.A) {
			resp := apiRequest("GET", "/collections/people/records/alice:contains").Do()
			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqualJson(resp.BodyJson(), JSON{"contains": true})

			resp = apiRequest("GET", "/collections/people/records/bob:contains").Do()
			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqualJson(resp.BodyJson(), JSON{"contains": false})
		})

		a.Alternative("Remove", func(a *biff.A) {
			resp := apiRequest("DELETE", "/collections/people/records/alice").Do()
			biff.AssertEqual(resp.StatusCode, http.StatusNoContent)

			a.Alternative("Lookup removed", func(a *biff.A) {
				resp := apiRequest("GET", "/collections/people/records/alice").Do()
				biff.AssertEqual(resp.StatusCode, http.StatusNotFound)
			})

			a.Alternative("Remove again", func(a *biff.A) {
				resp := apiRequest("DELETE", "/collections/people/records/alice").Do()
				biff.AssertEqual(resp.StatusCode, http.StatusNoContent)
			})
		})

		a.Alternative("Replace values", func(a *biff.A) {
			resp := apiRequest("PUT", "/collections/people/records/alice/values").
				WithBodyJson(JSON{"color": "green"}).Do()
			biff.AssertEqual(resp.StatusCode, http.StatusNoContent)

			resp = apiRequest("GET", "/collections/people/records/alice").Do()
			biff.AssertEqualJson(resp.BodyJson(), JSON{
				"key":    "alice",
				"system": JSON{"nr_ttl": 60},
				"values": JSON{"color": "green"},
			})
		})

		a.Alternative("Update fields", func(a *biff.A) {
			resp := apiRequest("PATCH", "/collections/people/records/alice/values").
				WithBodyJson(JSON{
					"fields": []JSON{{"name": "size", "type": "integer"}},
					"values": []interface{}{42},
				}).Do()
			biff.AssertEqual(resp.StatusCode, http.StatusNoContent)

			resp = apiRequest("GET", "/collections/people/records/alice").
				WithQuery("fields", "size").
				WithQuery("types", "integer").
				Do()
			biff.AssertEqualJson(resp.BodyJson(), JSON{
				"key":    "alice",
				"values": JSON{"size": 42},
			})
		})

		a.Alternative("Update fields - type mismatch", func(a *biff.A) {
			resp := apiRequest("PATCH", "/collections/people/records/alice/values").
				WithBodyJson(JSON{
					"fields": []JSON{{"name": "size", "type": "integer"}},
					"values": []interface{}{"big"},
				}).Do()
			biff.AssertEqual(resp.StatusCode, http.StatusBadRequest)
		})

		a.Alternative("Update - append", func(a *biff.A) {
			resp := apiRequest("POST", "/collections/people/records/alice:update").
				WithBodyJson(JSON{
					"operation": "APPEND",
					"field":     "tags",
					"newValues": []string{"c"},
				}).Do()
			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqualJson(resp.BodyJson(), JSON{"changed": true})

			resp = apiRequest("GET", "/collections/people/records/alice").
				WithQuery("fields", "tags").
				WithQuery("types", "list_string").
				Do()
			biff.AssertEqualJson(resp.BodyJson(), JSON{
				"key":    "alice",
				"values": JSON{"tags": []string{"a", "b", "c"}},
			})
		})

		a.Alternative("Update - unknown operation", func(a *biff.A) {
			resp := apiRequest("POST", "/collections/people/records/alice:update").
				WithBodyJson(JSON{"operation": "EXPLODE", "field": "tags"}).Do()
			biff.AssertEqual(resp.StatusCode, http.StatusBadRequest)
		})

		a.Alternative("Update - missing field", func(a *biff.A) {
			resp := apiRequest("POST", "/collections/people/records/alice:update").
				WithBodyJson(JSON{"operation": "APPEND", "field": "nope", "newValues": []string{"c"}}).Do()
			biff.AssertEqual(resp.StatusCode, http.StatusBadRequest)
		})

		a.Alternative("Update - missing record", func(a *biff.A) {
			resp := apiRequest("POST", "/collections/people/records/bob:update").
				WithBodyJson(JSON{"operation": "APPEND", "field": "tags", "newValues": []string{"c"}}).Do()
			biff.AssertEqual(resp.StatusCode, http.StatusNotFound)
		})

		a.Alternative("Update conditional", func(a *biff.A) {
			body := JSON{
				"condition": JSON{
					"field": JSON{"name": "color", "type": "string"},
					"value": "red",
				},
				"valuesMapKeys":   []JSON{{"name": "color", "type": "string"}},
				"valuesMapValues": []string{"blue"},
			}

			resp := apiRequest("POST", "/collections/people/records/alice:updateConditional").
				WithBodyJson(body).Do()
			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqualJson(resp.BodyJson(), JSON{"updated": true})

			resp = apiRequest("POST", "/collections/people/records/alice:updateConditional").
				WithBodyJson(body).Do()
			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqualJson(resp.BodyJson(), JSON{"updated": false})
		})

		a.Alternative("Remove keys", func(a *biff.A) {
			resp := apiRequest("POST", "/collections/people/records/alice:removeKeys").
				WithBodyJson(JSON{"keys": []JSON{{"name": "color"}, {"name": "absent"}}}).Do()
			biff.AssertEqual(resp.StatusCode, http.StatusNoContent)

			resp = apiRequest("GET", "/collections/people/records/alice").Do()
			biff.AssertEqualJson(resp.BodyJson(), JSON{
				"key":    "alice",
				"system": JSON{"nr_ttl": 60},
				"values": JSON{"tags": []string{"a", "b"}, "loc": []float64{0, 0}},
			})
		})

		a.Alternative("Select", func(a *biff.A) {
			resp := apiRequest("POST", "/collections/people:select").
				WithBodyJson(JSON{"key": "tags", "value": "b"}).Do()
			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqualJson(lines(resp), []interface{}{alice})

			resp = apiRequest("POST", "/collections/people:select").
				WithBodyJson(JSON{"key": "color", "value": "blue"}).Do()
			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqual(len(lines(resp)), 0)
		})

		a.Alternative("Select within", func(a *biff.A) {
			resp := apiRequest("POST", "/collections/people:selectWithin").
				WithBodyJson(JSON{"key": "loc", "box": [][]float64{{1, 1}, {-1, -1}}}).Do()
			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqualJson(lines(resp), []interface{}{alice})

			resp = apiRequest("POST", "/collections/people:selectWithin").
				WithBodyJson(JSON{"key": "loc", "box": []float64{1, 1}}).Do()
			biff.AssertEqual(resp.StatusCode, http.StatusBadRequest)
		})

		a.Alternative("Select near", func(a *biff.A) {
			resp := apiRequest("POST", "/collections/people:selectNear").
				WithBodyJson(JSON{"key": "loc", "point": []float64{0.001, 0}, "maxDistance": 1000}).Do()
			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqualJson(lines(resp), []interface{}{alice})

			resp = apiRequest("POST", "/collections/people:selectNear").
				WithBodyJson(JSON{"key": "loc", "point": []float64{1, 1}, "maxDistance": 1000}).Do()
			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqual(len(lines(resp)), 0)
		})

		a.Alternative("Select query", func(a *biff.A) {
			resp := apiRequest("POST", "/collections/people:selectQuery").
				WithBodyJson(JSON{"query": `~color : "red"`}).Do()
			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqualJson(lines(resp), []interface{}{alice})

			resp = apiRequest("POST", "/collections/people:selectQuery").
				WithBodyJson(JSON{"query": `~color : (`}).Do()
			biff.AssertEqual(resp.StatusCode, http.StatusBadRequest)
		})

		a.Alternative("Find", func(a *biff.A) {
			resp := apiRequest("POST", "/collections/people:find").
				WithBodyJson(JSON{"filter": JSON{"nr_name": JSON{"$eq": "alice"}}}).Do()
			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqualJson(lines(resp), []interface{}{alice})
		})

		a.Alternative("Alias records are not selected", func(a *biff.A) {
			resp := apiRequest("POST", "/collections/people/records").
				WithBodyJson(JSON{
					"key":    "alice-alias",
					"values": JSON{"color": "red", "_GNS_GUID": "alice"},
				}).Do()
			biff.AssertEqual(resp.StatusCode, http.StatusCreated)

			resp = apiRequest("POST", "/collections/people:select").
				WithBodyJson(JSON{"key": "color", "value": "red"}).Do()
			biff.AssertEqualJson(lines(resp), []interface{}{alice})
		})

		a.Alternative("List records", func(a *biff.A) {
			resp := apiRequest("GET", "/collections/people/records").
				WithQuery("fields", "color").
				WithQuery("types", "string").
				Do()
			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqualJson(lines(resp), []interface{}{
				JSON{"key": "alice", "values": JSON{"color": "red"}},
			})
		})

		a.Alternative("Reset", func(a *biff.A) {
			resp := apiRequest("POST", "/collections/people:reset").Do()
			biff.AssertEqual(resp.StatusCode, http.StatusNoContent)

			resp = apiRequest("GET", "/collections/people/records").Do()
			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqual(len(lines(resp)), 0)
		})
	})

	a.Alternative("Insert many", func(a *biff.A) {
		body := ""
		for _, key := range []string{"1", "2", "3"} {
			line, _ := json.Marshal(JSON{"key": key, "values": JSON{"n": key}})
			body += string(line) + "\n"
		}
		resp := apiRequest("POST", "/collections/numbers/records").
			WithBodyString(body).Do()
		biff.AssertEqual(resp.StatusCode, http.StatusCreated)
		biff.AssertEqual(len(lines(resp)), 3)

		resp = apiRequest("GET", "/collections/numbers/records").Do()
		biff.AssertEqual(len(lines(resp)), 3)
	})

	a.Alternative("Insert without key", func(a *biff.A) {
		resp := apiRequest("POST", "/collections/people/records").
			WithBodyJson(JSON{"values": JSON{}}).Do()
		biff.AssertEqual(resp.StatusCode, http.StatusBadRequest)
	})

	a.Alternative("Insert malformed", func(a *biff.A) {
		resp := apiRequest("POST", "/collections/people/records").
			WithBodyString(`{"key": `).Do()
		biff.AssertEqual(resp.StatusCode, http.StatusBadRequest)
	})
}
