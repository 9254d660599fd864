package protocol

import "github.com/santhosh-tekuri/jsonschema/v5"

type schema = *jsonschema.Schema

const cardSchema = `{"type": "integer", "minimum": 0, "maximum": 10}`

var envelopeSchema = jsonschema.MustCompileString("envelope.schema.json", `{
	"type": "object",
	"required": ["action"],
	"properties": {
		"action": {"type": "string"}
	}
}`)

var tradeSchema = jsonschema.MustCompileString("trade.schema.json", `{
	"type": "object",
	"required": ["action", "offer", "want", "from"],
	"properties": {
		"action": {"const": "trade"},
		"offer": `+cardSchema+`,
		"want": `+cardSchema+`,
		"from": {"type": "string", "minLength": 1}
	}
}`)

var joinSchema = jsonschema.MustCompileString("join.schema.json", `{
	"type": "object",
	"required": ["action", "name", "port"],
	"properties": {
		"action": {"const": "join"},
		"name": {"type": "string", "minLength": 1},
		"port": {"type": "integer", "minimum": 1, "maximum": 65535}
	}
}`)

var tradeResponseSchema = jsonschema.MustCompileString("trade_response.schema.json", `{
	"type": "object",
	"required": ["status"],
	"properties": {
		"status": {"enum": ["accepted", "rejected", "error"]},
		"given": `+cardSchema+`,
		"reason": {"type": "string"}
	},
	"if": {"properties": {"status": {"const": "accepted"}}},
	"then": {"required": ["given"]}
}`)

var joinResponseSchema = jsonschema.MustCompileString("join_response.schema.json", `{
	"type": "object",
	"required": ["status"],
	"properties": {
		"status": {"enum": ["ok", "waiting", "done", "error"]},
		"peers": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name", "ip", "port"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"ip": {"type": "string"},
					"port": {"type": "integer"}
				}
			}
		},
		"numbers": {"type": "array", "items": `+cardSchema+`},
		"turn": {"type": "integer", "minimum": 1},
		"epoch": {"type": "integer"},
		"reason": {"type": "string"}
	},
	"if": {"properties": {"status": {"const": "ok"}}},
	"then": {"required": ["peers", "numbers", "turn"]}
}`)
