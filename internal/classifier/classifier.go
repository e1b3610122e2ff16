// ABOUTME: Maps tool names and arguments to a small set of operation kinds
// ABOUTME: Name rules are tried in order; argument shape is the fallback

package classifier

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// Operation is the kind of work a tool call performs. It is either one of
// the Known constants or an Other carrying the unrecognized name.
type Operation interface {
	MetricsName() string
	String() string
	isOperation()
}

// Known is a recognized operation kind. Its value is the metrics name.
type Known string

const (
	FileCreate     Known = "file_create"
	FileEdit       Known = "file_edit"
	FileRead       Known = "file_read"
	FileDelete     Known = "file_delete"
	CommandExecute Known = "command_execute"
	Search         Known = "search"
	Navigate       Known = "navigate"
)

func (k Known) MetricsName() string { return string(k) }

func (k Known) String() string {
	switch k {
	case FileCreate:
		return "FileCreate"
	case FileEdit:
		return "FileEdit"
	case FileRead:
		return "FileRead"
	case FileDelete:
		return "FileDelete"
	case CommandExecute:
		return "CommandExecute"
	case Search:
		return "Search"
	case Navigate:
		return "Navigate"
	}
	return string(k)
}

func (Known) isOperation() {}

// Other is an operation the classifier could not place. Name keeps the
// signal it was derived from.
type Other struct {
	Name string
}

func (o Other) MetricsName() string { return o.Name }
func (o Other) String() string      { return "Other(" + o.Name + ")" }
func (Other) isOperation()          {}

// Metadata holds values pulled from the tool arguments, when present.
type Metadata struct {
	FilePath *string `json:"file_path,omitempty"`
	Command  *string `json:"command,omitempty"`
	Query    *string `json:"query,omitempty"`
}

// ClassifiedTool is the result of classifying one tool call.
type ClassifiedTool struct {
	OriginalName string    `json:"original_name"`
	Operation    Operation `json:"-"`
	// Extension is the namespace prefix of the tool name, or "" if there was none.
	Extension string   `json:"extension,omitempty"`
	Metadata  Metadata `json:"metadata"`
}

// MetricsName is the stable lower-snake-case name of the operation.
func (c ClassifiedTool) MetricsName() string {
	return c.Operation.MetricsName()
}

// DetailedName prefixes MetricsName with "<extension>::" when the tool had an extension.
func (c ClassifiedTool) DetailedName() string {
	if c.Extension != "" {
		return c.Extension + "::" + c.MetricsName()
	}
	return c.MetricsName()
}

// MarshalJSON adds the operation names to the encoded tool.
func (c ClassifiedTool) MarshalJSON() ([]byte, error) {
	type plain ClassifiedTool
	return json.Marshal(struct {
		plain
		Operation    string `json:"operation"`
		MetricsName  string `json:"metrics_name"`
		DetailedName string `json:"detailed_name"`
	}{plain(c), c.Operation.String(), c.MetricsName(), c.DetailedName()})
}

type nameRule struct {
	match func(name string) bool
	op    Known
}

func containsAny(subs ...string) func(string) bool {
	return func(name string) bool {
		for _, s := range subs {
			if strings.Contains(name, s) {
				return true
			}
		}
		return false
	}
}

// nameRules are evaluated top to bottom against the lower-cased base name.
// Order matters: "create_file" must be FileCreate before "edit"-like rules run.
var nameRules = []nameRule{
	{func(n string) bool { return strings.Contains(n, "create") && containsAny("file", "write")(n) }, FileCreate},
	{containsAny("edit", "modify", "update", "replace", "patch"), FileEdit},
	{containsAny("read", "view", "cat", "show"), FileRead},
	{containsAny("delete", "remove", "rm"), FileDelete},
	{containsAny("execute", "run", "command", "shell", "bash"), CommandExecute},
	{containsAny("search", "find", "query"), Search},
	{containsAny("navigate", "goto", "open"), Navigate},
}

// Classify determines the operation of a tool call. args is the JSON
// argument object; nil, empty or non-object arguments count as absent.
func Classify(toolName string, args json.RawMessage) ClassifiedTool {
	extension, base := splitExtension(toolName)
	result := ClassifiedTool{OriginalName: toolName, Extension: extension}

	var obj gjson.Result
	hasArgs := false
	if len(args) > 0 && gjson.ValidBytes(args) {
		obj = gjson.ParseBytes(args)
		hasArgs = obj.IsObject()
	}

	// An editor sub-command names the operation more precisely than the
	// tool name, which always contains "edit".
	if hasArgs {
		if op, md, ok := classifyEditor(base, obj); ok {
			result.Operation, result.Metadata = op, md
			return result
		}
	}

	if op, ok := classifyByName(base); ok {
		result.Operation = op
		if hasArgs {
			result.Metadata = extractMetadata(obj)
		}
		return result
	}

	if !hasArgs {
		result.Operation = Other{Name: base}
		return result
	}
	result.Operation, result.Metadata = classifyByArguments(base, obj)
	return result
}

// splitExtension separates "ext__tool" or "ext::tool" at the first separator.
func splitExtension(toolName string) (extension, base string) {
	if ext, name, ok := strings.Cut(toolName, "__"); ok {
		return ext, name
	}
	if ext, name, ok := strings.Cut(toolName, "::"); ok {
		return ext, name
	}
	return "", toolName
}

func classifyByName(base string) (Known, bool) {
	lower := strings.ToLower(base)
	for _, rule := range nameRules {
		if rule.match(lower) {
			return rule.op, true
		}
	}
	return "", false
}

// classifyEditor handles editor tools that carry a string "command" argument.
func classifyEditor(base string, args gjson.Result) (Operation, Metadata, bool) {
	if base != "text_editor" && !strings.Contains(base, "editor") {
		return nil, Metadata{}, false
	}
	command := args.Get("command")
	if command.Type != gjson.String {
		return nil, Metadata{}, false
	}

	md := Metadata{FilePath: stringOf(args.Get("path"))}
	switch cmd := command.String(); cmd {
	case "write", "create":
		return FileCreate, md, true
	case "edit", "replace", "str_replace":
		return FileEdit, md, true
	case "view", "read":
		return FileRead, md, true
	default:
		return Other{Name: "text_editor_" + cmd}, md, true
	}
}

func classifyByArguments(base string, args gjson.Result) (Operation, Metadata) {
	if op, md, ok := classifyEditor(base, args); ok {
		return op, md
	}

	var md Metadata

	if base == "shell" || base == "bash" || strings.Contains(base, "command") {
		md.Command = stringOf(args.Get("command"))
		return CommandExecute, md
	}

	if path := firstPresent(args, "path", "file", "filename"); path.Exists() {
		md.FilePath = stringOf(path)

		if op := firstPresent(args, "operation", "action"); op.Type == gjson.String {
			switch name := op.String(); name {
			case "create", "write":
				return FileCreate, md
			case "edit", "modify", "update":
				return FileEdit, md
			case "read", "view":
				return FileRead, md
			case "delete", "remove":
				return FileDelete, md
			default:
				return Other{Name: "file_" + name}, md
			}
		}

		if args.Get("content").Exists() || args.Get("text").Exists() {
			return FileCreate, md
		}
	}

	if query := firstPresent(args, "query", "search"); query.Type == gjson.String {
		md.Query = stringOf(query)
		return Search, md
	}

	return Other{Name: base}, md
}

// extractMetadata captures the usual argument aliases without affecting classification.
func extractMetadata(args gjson.Result) Metadata {
	return Metadata{
		FilePath: stringOf(firstPresent(args, "path", "file", "filename")),
		Command:  stringOf(firstPresent(args, "command", "cmd")),
		Query:    stringOf(firstPresent(args, "query", "search")),
	}
}

// firstPresent returns the value of the first key that exists in args.
func firstPresent(args gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := args.Get(k); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

// stringOf returns the value if it is a JSON string.
func stringOf(v gjson.Result) *string {
	if v.Type != gjson.String {
		return nil
	}
	s := v.String()
	return &s
}
