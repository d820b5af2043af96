// Package extract finds function and method declarations in TypeScript and
// JavaScript sources.
package extract

import (
	"sort"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/buildlens/buildlens/internal/impact"
	"github.com/buildlens/buildlens/internal/parser"
)

// FunctionExtractor walks a parse tree and collects declarations.
type FunctionExtractor struct {
	result *parser.ParseResult
}

// NewFunctionExtractor creates an extractor over a parsed file.
func NewFunctionExtractor(result *parser.ParseResult) *FunctionExtractor {
	return &FunctionExtractor{result: result}
}

// ExtractDeclarations returns every named function-like declaration:
// function declarations, class methods (as Class.method), class fields and
// variables initialised with a function, and object-literal function
// properties. Nested declarations are included. The result is ordered by
// start line.
func (e *FunctionExtractor) ExtractDeclarations() []impact.Declaration {
	var decls []impact.Declaration
	e.result.WalkNodes(func(node *sitter.Node) bool {
		if d, ok := e.extract(node); ok {
			decls = append(decls, d)
		}
		return true
	})

	sort.SliceStable(decls, func(i, j int) bool {
		if decls[i].StartLine != decls[j].StartLine {
			return decls[i].StartLine < decls[j].StartLine
		}
		return decls[i].EndLine > decls[j].EndLine
	})
	return decls
}

func (e *FunctionExtractor) extract(node *sitter.Node) (impact.Declaration, bool) {
	switch node.Type() {
	case "function_declaration", "generator_function_declaration":
		return e.extractFunction(node)
	case "method_definition":
		return e.extractMethod(node)
	case "variable_declarator":
		return e.extractVariable(node)
	case "public_field_definition", "field_definition":
		return e.extractField(node)
	case "pair":
		return e.extractPair(node)
	}
	return impact.Declaration{}, false
}

func (e *FunctionExtractor) extractFunction(node *sitter.Node) (impact.Declaration, bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return impact.Declaration{}, false
	}
	return e.declaration(e.nodeText(nameNode), node, node, isExported(node)), true
}

func (e *FunctionExtractor) extractMethod(node *sitter.Node) (impact.Declaration, bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return impact.Declaration{}, false
	}
	name := e.nodeText(nameNode)
	class := enclosingClass(node)
	exported := false
	if class != nil {
		if className := e.className(class); className != "" {
			name = className + "." + name
		}
		exported = isExported(class)
	}
	return e.declaration(name, node, node, exported), true
}

// extractVariable handles `const f = () => {}` and `var g = function () {}`.
// The span is the declarator's, so the name line is included.
func (e *FunctionExtractor) extractVariable(node *sitter.Node) (impact.Declaration, bool) {
	value := node.ChildByFieldName("value")
	if !isFunctionValue(value) {
		return impact.Declaration{}, false
	}
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil || nameNode.Type() != "identifier" {
		return impact.Declaration{}, false
	}
	return e.declaration(e.nodeText(nameNode), node, value, isExported(node.Parent())), true
}

func (e *FunctionExtractor) extractField(node *sitter.Node) (impact.Declaration, bool) {
	value := node.ChildByFieldName("value")
	if !isFunctionValue(value) {
		return impact.Declaration{}, false
	}
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		nameNode = node.ChildByFieldName("property")
	}
	if nameNode == nil {
		return impact.Declaration{}, false
	}
	name := e.nodeText(nameNode)
	exported := false
	if class := enclosingClass(node); class != nil {
		if className := e.className(class); className != "" {
			name = className + "." + name
		}
		exported = isExported(class)
	}
	return e.declaration(name, node, value, exported), true
}

func (e *FunctionExtractor) extractPair(node *sitter.Node) (impact.Declaration, bool) {
	value := node.ChildByFieldName("value")
	if !isFunctionValue(value) {
		return impact.Declaration{}, false
	}
	keyNode := node.ChildByFieldName("key")
	if keyNode == nil {
		return impact.Declaration{}, false
	}
	return e.declaration(e.nodeText(keyNode), node, value, false), true
}

// declaration builds a Declaration spanning span, reading async from fn.
func (e *FunctionExtractor) declaration(name string, span, fn *sitter.Node, exported bool) impact.Declaration {
	return impact.Declaration{
		Name:      name,
		StartLine: parser.StartLine(span),
		EndLine:   parser.EndLine(span),
		Exported:  exported,
		Async:     hasChildOfType(fn, "async"),
	}
}

// className names a class node, falling back to the variable it is assigned to.
func (e *FunctionExtractor) className(class *sitter.Node) string {
	if nameNode := class.ChildByFieldName("name"); nameNode != nil {
		return e.nodeText(nameNode)
	}
	if parent := class.Parent(); parent != nil && parent.Type() == "variable_declarator" {
		if nameNode := parent.ChildByFieldName("name"); nameNode != nil {
			return e.nodeText(nameNode)
		}
	}
	return ""
}

func (e *FunctionExtractor) nodeText(node *sitter.Node) string {
	return e.result.NodeText(node)
}

func enclosingClass(node *sitter.Node) *sitter.Node {
	body := node.Parent()
	if body == nil || body.Type() != "class_body" {
		return nil
	}
	return body.Parent()
}

func isFunctionValue(node *sitter.Node) bool {
	if node == nil {
		return false
	}
	switch node.Type() {
	case "arrow_function", "function_expression", "function", "generator_function":
		return true
	}
	return false
}

func isExported(node *sitter.Node) bool {
	if node == nil {
		return false
	}
	parent := node.Parent()
	return parent != nil && parent.Type() == "export_statement"
}

func hasChildOfType(node *sitter.Node, nodeType string) bool {
	for i := 0; i < int(node.ChildCount()); i++ {
		if node.Child(i).Type() == nodeType {
			return true
		}
	}
	return false
}
