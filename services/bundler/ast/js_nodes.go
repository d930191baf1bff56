// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

// JavaScript tree-sitter node types used for statement classification,
// scope analysis and dependency extraction.
//
// Reference: https://github.com/tree-sitter/tree-sitter-javascript
const (
	// Top-level nodes
	NodeProgram = "program"
	NodeComment = "comment"
	NodeError   = "ERROR"

	// Import nodes
	NodeImportStatement = "import_statement"
	NodeImportClause    = "import_clause"
	NodeNamespaceImport = "namespace_import"
	NodeNamedImports    = "named_imports"
	NodeImportSpecifier = "import_specifier"
	NodeString          = "string"
	NodeStringFragment  = "string_fragment"
	NodeEscapeSequence  = "escape_sequence"

	// Export nodes
	NodeExportStatement = "export_statement"
	NodeExportClause    = "export_clause"
	NodeExportSpecifier = "export_specifier"
	NodeNamespaceExport = "namespace_export"

	// Declaration nodes
	NodeFunctionDeclaration   = "function_declaration"
	NodeGeneratorFunctionDecl = "generator_function_declaration"
	NodeClassDeclaration      = "class_declaration"
	NodeLexicalDeclaration    = "lexical_declaration"
	NodeVariableDeclaration   = "variable_declaration"
	NodeVariableDeclarator    = "variable_declarator"

	// Function-like expressions. Older grammars name function expressions
	// "function", newer ones "function_expression".
	NodeFunction          = "function"
	NodeFunctionExpr      = "function_expression"
	NodeGeneratorFunction = "generator_function"
	NodeArrowFunction     = "arrow_function"
	NodeMethodDefinition  = "method_definition"
	NodeClass             = "class"
	NodeClassBody         = "class_body"
	NodeFieldDefinition   = "field_definition"
	NodeStaticBlock       = "class_static_block"
	NodeFormalParameters  = "formal_parameters"

	// Patterns
	NodeIdentifier                = "identifier"
	NodeShorthandProperty         = "shorthand_property_identifier"
	NodeShorthandPropertyPattern  = "shorthand_property_identifier_pattern"
	NodeObjectPattern             = "object_pattern"
	NodeArrayPattern              = "array_pattern"
	NodeAssignmentPattern         = "assignment_pattern"
	NodeObjectAssignmentPattern   = "object_assignment_pattern"
	NodePairPattern               = "pair_pattern"
	NodeRestPattern               = "rest_pattern"
	NodeComputedPropertyName      = "computed_property_name"
	NodePropertyIdentifier        = "property_identifier"
	NodePrivatePropertyIdentifier = "private_property_identifier"

	// Statements that open a block scope
	NodeStatementBlock = "statement_block"
	NodeForStatement   = "for_statement"
	NodeForInStatement = "for_in_statement"
	NodeCatchClause    = "catch_clause"
	NodeSwitchBody     = "switch_body"

	// Expressions
	NodeCallExpression   = "call_expression"
	NodeNewExpression    = "new_expression"
	NodeMemberExpression = "member_expression"
	NodeArguments        = "arguments"
	NodeImport           = "import"
	NodeTemplateString   = "template_string"
	NodeParenthesized    = "parenthesized_expression"
	NodeExpressionStmt   = "expression_statement"
	NodeEmptyStatement   = "empty_statement"

	// Expressions that can have effects when evaluated
	NodeAssignment          = "assignment_expression"
	NodeAugmentedAssignment = "augmented_assignment_expression"
	NodeUpdateExpression    = "update_expression"
	NodeAwaitExpression     = "await_expression"
	NodeYieldExpression     = "yield_expression"
	NodeUnaryExpression     = "unary_expression"
	NodeClassHeritage       = "class_heritage"

	// Keywords
	NodeVar     = "var"
	NodeLet     = "let"
	NodeConst   = "const"
	NodeDefault = "default"
	NodeStar    = "*"
)
