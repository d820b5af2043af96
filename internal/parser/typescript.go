package parser

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

func newTypeScriptParser() *sitter.Parser {
	parser := sitter.NewParser()
	parser.SetLanguage(typescript.GetLanguage())
	return parser
}

func newTSXParser() *sitter.Parser {
	parser := sitter.NewParser()
	parser.SetLanguage(tsx.GetLanguage())
	return parser
}

// The javascript grammar also accepts JSX.
func newJavaScriptParser() *sitter.Parser {
	parser := sitter.NewParser()
	parser.SetLanguage(javascript.GetLanguage())
	return parser
}

// FunctionNodeTypes are the node types that carry a callable body.
var FunctionNodeTypes = map[string]bool{
	"function_declaration":           true,
	"generator_function_declaration": true,
	"function_expression":            true,
	"function":                       true,
	"generator_function":             true,
	"arrow_function":                 true,
	"method_definition":              true,
}

// IsFunctionNode reports whether node is a function-like node.
func IsFunctionNode(node *sitter.Node) bool {
	if node == nil {
		return false
	}
	return FunctionNodeTypes[node.Type()]
}
