package llm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateSchema(t *testing.T) {
	t.Run("nil value", func(t *testing.T) {
		_, err := GenerateSchema(nil)
		require.Error(t, err)
		require.Contains(t, err.Error(), "cannot be nil")
	})

	t.Run("non-struct type", func(t *testing.T) {
		_, err := GenerateSchema("string")
		require.Error(t, err)
		require.Contains(t, err.Error(), "must be a struct")
	})

	t.Run("simple struct", func(t *testing.T) {
		type report struct {
			Signal     string  `json:"signal"`
			Confidence float64 `json:"confidence"`
			Reasoning  string  `json:"reasoning,omitempty"`
		}

		schema, err := GenerateSchema(report{})
		require.NoError(t, err)
		require.Equal(t, "object", schema["type"])

		props := schema["properties"].(map[string]interface{})
		require.Len(t, props, 3)
		require.Equal(t, "string", props["signal"].(map[string]interface{})["type"])
		require.Equal(t, "number", props["confidence"].(map[string]interface{})["type"])

		required := schema["required"].([]string)
		require.Contains(t, required, "signal")
		require.Contains(t, required, "confidence")
		require.NotContains(t, required, "reasoning")
	})

	t.Run("nested and described fields", func(t *testing.T) {
		type vote struct {
			Agent  string `json:"agent"`
			Signal string `json:"signal"`
		}
		type advisory struct {
			Action string  `json:"action" description:"long, short, hold or close"`
			Votes  []vote  `json:"votes"`
			Extras map[string]float64 `json:"extras,omitempty"`
		}

		schema, err := GenerateSchema(&advisory{})
		require.NoError(t, err)
		props := schema["properties"].(map[string]interface{})

		action := props["action"].(map[string]interface{})
		require.Equal(t, "long, short, hold or close", action["description"])

		votes := props["votes"].(map[string]interface{})
		require.Equal(t, "array", votes["type"])
		items := votes["items"].(map[string]interface{})
		require.Equal(t, "object", items["type"])

		extras := props["extras"].(map[string]interface{})
		require.Equal(t, "object", extras["type"])
	})
}

func TestParseStructured(t *testing.T) {
	type report struct {
		Signal     string  `json:"signal"`
		Confidence float64 `json:"confidence"`
	}

	t.Run("bare json", func(t *testing.T) {
		var out report
		err := ParseStructured(`{"signal":"bullish","confidence":0.8}`, &out)
		require.NoError(t, err)
		require.Equal(t, "bullish", out.Signal)
		require.InDelta(t, 0.8, out.Confidence, 1e-9)
	})

	t.Run("fenced json", func(t *testing.T) {
		var out report
		err := ParseStructured("Here you go:\n```json\n{\"signal\":\"bearish\",\"confidence\":0.6}\n```\n", &out)
		require.NoError(t, err)
		require.Equal(t, "bearish", out.Signal)
	})

	t.Run("json with trailing prose", func(t *testing.T) {
		var out report
		err := ParseStructured(`{"signal":"neutral","confidence":0.5} hope that helps`, &out)
		require.NoError(t, err)
		require.Equal(t, "neutral", out.Signal)
	})

	t.Run("garbage errors", func(t *testing.T) {
		var out report
		require.Error(t, ParseStructured("no json here", &out))
	})

	t.Run("non-pointer target", func(t *testing.T) {
		require.Error(t, ParseStructured(`{}`, report{}))
	})
}

func TestExtractJSON_NestedBraces(t *testing.T) {
	in := `prefix {"a":{"b":"}"},"c":1} suffix`
	require.Equal(t, `{"a":{"b":"}"},"c":1}`, ExtractJSON(in))
}
