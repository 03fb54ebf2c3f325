package consensus

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// 自动投票时模型必须返回的选票格式。
const ballotSchemaJSON = `{
  "type": "object",
  "required": ["decision", "reason"],
  "properties": {
    "decision": {"type": "string", "enum": ["support", "oppose"]},
    "reason": {"type": "string", "minLength": 1}
  }
}`

var ballotSchema = mustCompileBallotSchema()

func mustCompileBallotSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("ballot.json", strings.NewReader(ballotSchemaJSON)); err != nil {
		panic(err)
	}
	return compiler.MustCompile("ballot.json")
}

// ParseBallot 从模型回复中解析并校验一张选票。
// 回复允许带解释性文字或代码围栏，只取其中首个 JSON 对象。
func ParseBallot(raw string) (Decision, string, error) {
	body := extractJSONObject(raw)
	if body == "" || !gjson.Valid(body) {
		return "", "", fmt.Errorf("选票不是有效 JSON")
	}
	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return "", "", err
	}
	if err := ballotSchema.Validate(doc); err != nil {
		return "", "", fmt.Errorf("选票不符合格式: %w", err)
	}
	parsed := gjson.Parse(body)
	decision := Decision(parsed.Get("decision").String())
	reason := strings.TrimSpace(parsed.Get("reason").String())
	return decision, reason, nil
}
