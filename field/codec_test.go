package field

import (
	"testing"

	"github.com/cockroachdb/errors"
	. "github.com/fulldump/biff"
)

func TestEncodeDecode(t *testing.T) {

	Alternative("List of strings", func(a *A) {
		f := New("tags", ListString)

		stored, err := Encode(f, []string{"fruit", "red", "fruit"})
		AssertNil(err)
		AssertEqual(stored, []any{"fruit", "red", "fruit"})

		decoded, err := Decode(f, stored)
		AssertNil(err)
		AssertEqual(decoded, []string{"fruit", "red", "fruit"})
	})

	Alternative("Set of strings drops duplicates", func(a *A) {
		f := New("members", SetString)

		stored, err := Encode(f, []any{"a", "b", "a"})
		AssertNil(err)
		AssertEqual(stored, []any{"a", "b"})
	})

	Alternative("Integers accept any numeric kind", func(a *A) {
		f := New("nr_version", Integer)

		stored, err := Encode(f, int32(7))
		AssertNil(err)
		AssertEqual(stored, float64(7))

		decoded, err := Decode(f, uint16(7))
		AssertNil(err)
		AssertEqual(decoded, int64(7))
	})

	Alternative("Integers beyond the exact range are rejected", func(a *A) {
		f := New("nr_version", Integer)

		stored, err := Encode(f, int64(MaxInteger))
		AssertNil(err)
		decoded, err := Decode(f, stored)
		AssertNil(err)
		AssertEqual(decoded, int64(MaxInteger))

		_, err = Encode(f, int64(MaxInteger+2))
		AssertTrue(errors.Is(err, ErrTypeMismatch))

		_, err = Encode(f, float64(1<<53))
		AssertTrue(errors.Is(err, ErrTypeMismatch))

		_, err = Decode(f, 1e19)
		AssertTrue(errors.Is(err, ErrTypeMismatch))

		AssertEqual(Normalize(uint64(MaxInteger+2)), uint64(MaxInteger+2))
		AssertTrue(errors.Is(Check(map[string]any{"ids": []any{int64(-MaxInteger - 2)}}), ErrTypeMismatch))
		AssertNil(Check(Normalize([]int64{MaxInteger})))
	})

	Alternative("Fractional integer is rejected", func(a *A) {
		_, err := Encode(New("n", Integer), 1.5)
		AssertTrue(errors.Is(err, ErrTypeMismatch))
	})

	Alternative("Decode under the wrong type fails", func(a *A) {
		_, err := Decode(New("tags", ListString), []any{float64(1)})
		AssertTrue(errors.Is(err, ErrTypeMismatch))

		_, err = Decode(New("flag", Boolean), "true")
		AssertTrue(errors.Is(err, ErrTypeMismatch))
	})

	Alternative("User JSON keeps any structure", func(a *A) {
		f := New("profile", UserJSON)
		value := map[string]any{"age": 3, "nick": []string{"x"}}

		stored, err := Encode(f, value)
		AssertNil(err)
		AssertEqual(stored, map[string]any{"age": float64(3), "nick": []any{"x"}})

		decoded, err := Decode(f, stored)
		AssertNil(err)
		AssertEqual(decoded, stored)
	})
}

func TestParseType(t *testing.T) {

	for _, typ := range []Type{Boolean, Integer, String, SetInteger, SetString, ListInteger, ListString, ValuesMap, UserJSON} {
		parsed, err := ParseType(typ.String())
		if err != nil {
			t.Fatalf("parse %s: %v", typ, err)
		}
		if parsed != typ {
			t.Fatalf("expected %s, got %s", typ, parsed)
		}
	}

	if _, err := ParseType("matrix"); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}
