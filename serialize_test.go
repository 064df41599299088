package loggo

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	X      int `json:"x"`
	Y      int
	hidden int
	Skip   string `json:"-"`
}

type statusCode int

func TestSerializeEmpty(t *testing.T) {
	assert.Equal(t, "{}", string(SerializeFields(nil, 0, EncodingJSON)))
	assert.Equal(t, "{}", string(SerializeFields(Fields{}, 3, EncodingJSON)))
	assert.Equal(t, "0", string(SerializeFields(nil, 0, EncodingCompact)))
}

func TestSerializeJSONScalars(t *testing.T) {
	fields := Fields{
		F("user_id", 7),
		F("ok", true),
		F("ratio", 1.5),
		F("none", nil),
		F("elapsed", 1500*time.Millisecond),
		F("err", errors.New("boom")),
		F("raw", []byte("hi")),
		F("code", statusCode(404)),
		F("level", LevelInfo),
	}
	got := string(SerializeFields(fields, 3, EncodingJSON))
	assert.Equal(t,
		`{"user_id":7,"ok":true,"ratio":1.5,"none":null,"elapsed":"1.5s","err":"boom","raw":"aGk=","code":404,"level":"INFO"}`,
		got)
	assert.True(t, json.Valid([]byte(got)))
}

func TestSerializePreservesOrderAndDuplicates(t *testing.T) {
	fields := Fields{F("b", 1), F("a", 2), F("b", 3)}
	assert.Equal(t, `{"b":1,"a":2,"b":3}`, string(SerializeFields(fields, 3, EncodingJSON)))
}

func TestSerializeEscaping(t *testing.T) {
	fields := Fields{F(`k"ey`, "quote\" back\\ nl\n cr\r tab\t ctl\x01")}
	got := SerializeFields(fields, 3, EncodingJSON)
	assert.Equal(t, `{"k\"ey":"quote\" back\\ nl\n cr\r tab\t ctl\u0001"}`, string(got))

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(got, &decoded))
	assert.Equal(t, "quote\" back\\ nl\n cr\r tab\t ctl\x01", decoded[`k"ey`])
}

func TestSerializeInvalidUTF8(t *testing.T) {
	got := SerializeFields(Fields{F("s", "a\xffb")}, 3, EncodingJSON)
	assert.Equal(t, "{\"s\":\"a\ufffdb\"}", string(got))
}

func TestSerializeNonFiniteFloats(t *testing.T) {
	fields := Fields{F("nan", math.NaN()), F("inf", math.Inf(1)), F("ninf", math.Inf(-1))}
	got := SerializeFields(fields, 3, EncodingJSON)
	assert.Equal(t, `{"nan":"NaN","inf":"Infinity","ninf":"-Infinity"}`, string(got))
	assert.True(t, json.Valid(got))
}

func TestSerializeDepthLimit(t *testing.T) {
	nested := Group("a", Group("b", Group("c", Group("d", F("e", 1)))))

	t.Run("default depth", func(t *testing.T) {
		got := SerializeFields(Fields{nested}, 0, EncodingJSON)
		assert.Equal(t, `{"a":{"b":{"c":{"d":"<max_depth>"}}}}`, string(got))
	})

	t.Run("within bound", func(t *testing.T) {
		got := SerializeFields(Fields{nested}, 4, EncodingJSON)
		assert.Equal(t, `{"a":{"b":{"c":{"d":{"e":1}}}}}`, string(got))
	})

	t.Run("depth one", func(t *testing.T) {
		fields := Fields{
			Group("flat", F("x", 1)),
			Group("deep", Group("inner", F("x", 1))),
			F("list", []any{1, []any{2}}),
		}
		got := SerializeFields(fields, 1, EncodingJSON)
		assert.Equal(t, `{"flat":{"x":1},"deep":{"inner":"<max_depth>"},"list":[1,"<max_depth>"]}`, string(got))
	})

	t.Run("scalars below the bound", func(t *testing.T) {
		fields := Fields{Group("a", Group("b", Group("c", F("d", 1))))}
		assert.Equal(t, `{"a":{"b":{"c":{"d":1}}}}`, string(SerializeFields(fields, 3, EncodingJSON)))
	})

	t.Run("reflected containers", func(t *testing.T) {
		fields := Fields{F("m", map[string][]int{"k": {1, 2}})}
		assert.Equal(t, `{"m":{"k":[1,2]}}`, string(SerializeFields(fields, 2, EncodingJSON)))
		assert.Equal(t, `{"m":{"k":"<max_depth>"}}`, string(SerializeFields(fields, 1, EncodingJSON)))
	})
}

func TestSerializeMapsAndStructs(t *testing.T) {
	fields := Fields{
		F("m", map[string]any{"b": 2, "a": 1}),
		F("p", point{X: 1, Y: 2, hidden: 3, Skip: "no"}),
		F("ptr", &point{X: 5}),
		F("ints", []int{1, 2, 3}),
		F("nilptr", (*point)(nil)),
	}
	got := SerializeFields(fields, 3, EncodingJSON)
	assert.Equal(t,
		`{"m":{"a":1,"b":2},"p":{"x":1,"Y":2},"ptr":{"x":5,"Y":0},"ints":[1,2,3],"nilptr":null}`,
		string(got))
}

func TestSerializeCompact(t *testing.T) {
	fields := Fields{
		F("user_id", 7),
		F("name", "hello world"),
		F("level", LevelError),
		Group("req", F("path", "/x")),
	}
	got := SerializeFields(fields, 3, EncodingCompact)
	assert.Equal(t, "user_id\x007\x00name\x00hello world\x00level\x00ERROR\x00req\x00{\"path\":\"/x\"}\x00", string(got))
}

func TestDecodeCompact(t *testing.T) {
	fields, err := DecodeCompact([]byte("a\x001\x00b\x00two words\x00"))
	require.NoError(t, err)
	assert.Equal(t, Fields{F("a", "1"), F("b", "two words")}, fields)

	fields, err = DecodeCompact([]byte("0"))
	require.NoError(t, err)
	assert.Empty(t, fields)

	fields, err = DecodeCompact(nil)
	require.NoError(t, err)
	assert.Empty(t, fields)

	_, err = DecodeCompact([]byte("a\x001"))
	assert.Error(t, err)

	_, err = DecodeCompact([]byte("a\x00"))
	assert.ErrorIs(t, err, errOddCompact)
}

func TestCompactRoundTrip(t *testing.T) {
	in := Fields{F("k1", "v1"), F("k2", 42), F("k3", "")}
	out, err := DecodeCompact(SerializeFields(in, 3, EncodingCompact))
	require.NoError(t, err)
	assert.Equal(t, Fields{F("k1", "v1"), F("k2", "42"), F("k3", "")}, out)
}

func TestParseEncoding(t *testing.T) {
	enc, err := ParseEncoding("", EncodingCompact)
	require.NoError(t, err)
	assert.Equal(t, EncodingCompact, enc)

	enc, err = ParseEncoding("JSON", EncodingCompact)
	require.NoError(t, err)
	assert.Equal(t, EncodingJSON, enc)

	_, err = ParseEncoding("xml", EncodingJSON)
	assert.Error(t, err)
}

func TestFieldHelpers(t *testing.T) {
	base := Fields{F("a", 1)}
	ext := base.With(F("b", 2))
	assert.Len(t, base, 1)
	assert.Equal(t, Fields{F("a", 1), F("b", 2)}, ext)

	assert.Equal(t, Fields{F("a", 1), F("b", 2)}, FromMap(map[string]any{"b": 2, "a": 1}))
	assert.Equal(t, Fields{F("k", "v"), F("3", true), F("dangling", nil)}, FromPairs("k", "v", 3, true, "dangling"))
}
