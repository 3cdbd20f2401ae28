package sandbox

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bonk1t/agent-os/internal/domain"
)

// BuildProgram wraps skill source code in the bootstrap the interpreter
// runs. The bootstrap defines a minimal BaseTool, evaluates the skill
// code, locates the single BaseTool subclass it defines, instantiates it
// with the synthesized arguments, and prints the result behind
// domain.SkillOutputMarker. Any failure exits non-zero with an explanatory line.
func BuildProgram(code string, args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	encodedArgs, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode args: %w", err)
	}

	var b strings.Builder
	b.WriteString("import json\nimport os\nimport sys\n\n")
	b.WriteString("class BaseTool:\n")
	b.WriteString("    def __init__(self, **kwargs):\n")
	b.WriteString("        for key, value in kwargs.items():\n")
	b.WriteString("            setattr(self, key, value)\n\n")
	b.WriteString(code)
	b.WriteString("\n\n")
	b.WriteString("_candidates = [obj for obj in list(globals().values())\n")
	b.WriteString("               if isinstance(obj, type) and obj is not BaseTool and issubclass(obj, BaseTool)]\n")
	b.WriteString("if not _candidates:\n")
	b.WriteString("    print(\"Error: No skill classes found\")\n")
	b.WriteString("    sys.exit(1)\n\n")
	b.WriteString(fmt.Sprintf("_args = json.loads(%q)\n", string(encodedArgs)))
	b.WriteString("try:\n")
	b.WriteString("    _result = _candidates[0](**_args).run()\n")
	b.WriteString(fmt.Sprintf("    print(%q + str(_result))\n", domain.SkillOutputMarker))
	b.WriteString("except Exception as e:\n")
	b.WriteString("    print(f\"Error executing skill: {e}\")\n")
	b.WriteString("    sys.exit(1)\n")
	return b.String(), nil
}
