package agent

import (
	"fmt"
	"strings"

	"github.com/sqlstudio/sqlstudio/internal/database"
	"github.com/sqlstudio/sqlstudio/internal/knowledge"
)

// FormatSchema renders schema as the plain-text block embedded in the SQL
// generation prompt.
func FormatSchema(schema database.Schema) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Database: %s\n\n", schema.DatabaseName)
	for _, table := range schema.Tables {
		fmt.Fprintf(&b, "Table: %s\n", table.Name)
		if table.Comment != "" {
			fmt.Fprintf(&b, "  Comment: %s\n", table.Comment)
		}
		b.WriteString("  Columns:\n")
		for _, column := range table.Columns {
			var flags []string
			if column.PrimaryKey {
				flags = append(flags, "PK")
			}
			if !column.Nullable {
				flags = append(flags, "NOT NULL")
			}
			if column.DefaultValue != "" {
				flags = append(flags, "DEFAULT: "+column.DefaultValue)
			}
			fmt.Fprintf(&b, "    - %s: %s", column.Name, column.DataType)
			if len(flags) > 0 {
				fmt.Fprintf(&b, " [%s]", strings.Join(flags, ", "))
			}
			if column.Comment != "" {
				fmt.Fprintf(&b, " -- %s", column.Comment)
			}
			b.WriteString("\n")
		}
		if len(table.SampleData) > 0 {
			b.WriteString("  Sample Data:\n")
			for _, row := range table.SampleData {
				values := make([]string, 0, len(table.Columns))
				for _, column := range table.Columns {
					value, ok := row[column.Name]
					if !ok {
						value = "NULL"
					}
					values = append(values, column.Name+"="+value)
				}
				fmt.Fprintf(&b, "    - %s\n", strings.Join(values, ", "))
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func systemPrompt(req GenerationRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert %s SQL developer.\n", req.DatabaseType)
	b.WriteString("Your task is to turn the user's request into accurate, efficient and safe SQL.\n\n")
	b.WriteString("## Generation rules\n\n")
	fmt.Fprintf(&b, "1. Use SQL syntax compatible with %s\n", req.DatabaseType)
	b.WriteString("2. **Only use tables and columns that exist in the schema; never invent fields**\n")
	b.WriteString("3. Use appropriate JOINs when querying related tables\n")
	b.WriteString("4. Add WHERE clauses to filter where appropriate\n")
	b.WriteString("5. Keep query performance in mind and make sensible use of indexes\n")
	b.WriteString("6. If the request involves several operations, generate several SQL statements\n")
	b.WriteString("7. If a requested field does not exist in the schema, use the closest field or say the request cannot be fulfilled\n\n")
	b.WriteString("## Output format requirements (must be followed strictly)\n\n")
	b.WriteString("1. Put all SQL statements in a single ```sql code block\n")
	b.WriteString("2. Every SQL statement must end with a semicolon `;`\n")
	b.WriteString("3. Separate statements with a blank line\n")
	b.WriteString("4. Write SQL keywords in upper case (SELECT, FROM, WHERE, JOIN, ...)\n")
	b.WriteString("5. Break and indent complex queries for readability\n\n")
	b.WriteString("## Output example\n\n")
	b.WriteString("```sql\n")
	b.WriteString("-- Query 1: active users\n")
	b.WriteString("SELECT id, name, email\n")
	b.WriteString("FROM users\n")
	b.WriteString("WHERE status = 'active';\n\n")
	b.WriteString("-- Query 2: order count\n")
	b.WriteString("SELECT COUNT(*) AS order_count\n")
	b.WriteString("FROM orders\n")
	b.WriteString("WHERE created_at >= '2024-01-01';\n")
	b.WriteString("```\n\n")
	b.WriteString("## Database Schema\n\n")
	b.WriteString(FormatSchema(req.Schema))
	return b.String()
}

func userPrompt(req GenerationRequest) string {
	var b strings.Builder
	b.WriteString("## User Request\n\n")
	fmt.Fprintf(&b, "\"%s\"\n", req.UserQuery)
	if req.AdditionalContext != "" {
		b.WriteString("\n")
		if knowledgeContext, ok := cutKnowledgeHeader(req.AdditionalContext); ok {
			b.WriteString("## Business rules and domain knowledge (follow strictly)\n\n")
			b.WriteString(knowledgeContext + "\n")
		} else {
			b.WriteString("## Supplementary notes\n\n")
			b.WriteString(req.AdditionalContext + "\n")
		}
	}
	b.WriteString("\nGenerate SQL for the request above. If it involves several operations or queries, generate several statements.\n")
	b.WriteString("Follow the output format strictly and put all SQL in a single ```sql code block.\n")
	return b.String()
}

func correctionPrompt(previousSQL, errorMessage string) string {
	var b strings.Builder
	b.WriteString("## SQL execution error, please fix\n\n")
	fmt.Fprintf(&b, "**Error message:** %s\n\n", errorMessage)
	if previousSQL != "" {
		b.WriteString("**Failing SQL:**\n")
		fmt.Fprintf(&b, "```sql\n%s\n```\n\n", previousSQL)
	}
	b.WriteString("Analyze the cause of the error and produce corrected SQL.\n\n")
	b.WriteString("**Important: only output the corrected SQL code block, with no explanation or commentary.**\n")
	b.WriteString("Follow the output format strictly and put the corrected SQL in a single ```sql code block.\n")
	return b.String()
}

func analysisSystemPrompt(req TableAnalysisRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a %s database expert. Task: analyze the user's question and select every relevant table.\n\n", req.DatabaseType)
	b.WriteString("[Key principle] When in doubt, include the table. A missing table makes the SQL fail; an extra table only costs a little performance.\n\n")
	fmt.Fprintf(&b, "## The database has %d tables\n\n", len(req.FullSchema.Tables))

	b.WriteString("### Table summary\n")
	for _, table := range req.FullSchema.Tables {
		comment := table.Comment
		if comment == "" {
			comment = "no comment"
		}
		fmt.Fprintf(&b, "- **%s**: %s\n", table.Name, comment)
	}
	b.WriteString("\n")

	b.WriteString("### Table details\n")
	for _, table := range req.FullSchema.Tables {
		if table.Comment != "" {
			fmt.Fprintf(&b, "#### %s (%s)\n", table.Name, table.Comment)
		} else {
			fmt.Fprintf(&b, "#### %s\n", table.Name)
		}
		for _, column := range table.Columns {
			fmt.Fprintf(&b, "  - %s (%s)", column.Name, column.DataType)
			if column.PrimaryKey {
				b.WriteString(" [PK]")
			} else if looksLikeForeignKey(column.Name) {
				b.WriteString(" [FK?]")
			}
			if column.Comment != "" {
				fmt.Fprintf(&b, " // %s", column.Comment)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("## Table selection checklist (check every item)\n\n")
	b.WriteString("Before answering, confirm each item:\n")
	b.WriteString("[ ] 1. Does every noun or entity in the question map to a table?\n")
	b.WriteString("[ ] 2. If a related attribute must be shown (a name instead of an id), is the related table included?\n")
	b.WriteString("[ ] 3. For foreign keys (columns ending in Id), is the referenced table included?\n")
	b.WriteString("[ ] 4. If the question aggregates or summarizes, are the detail tables included?\n")
	b.WriteString("[ ] 5. Can the selected tables answer the whole question?\n\n")

	b.WriteString("## Output format\n\n")
	b.WriteString("ANALYSIS:\n")
	b.WriteString("- Intent: [one sentence describing what the user wants]\n")
	b.WriteString("- Entities: [every business entity or noun in the question]\n")
	b.WriteString("- Joins needed: [yes/no; if yes, which tables]\n\n")
	b.WriteString("MAPPING:\n")
	b.WriteString("[for each entity write: entity -> table_name (basis)]\n\n")
	b.WriteString("CHECK:\n")
	b.WriteString("[answer the 5 checklist items above]\n\n")
	b.WriteString("TABLES: table1, table2, table3\n")
	b.WriteString("REASON: [why these tables were chosen]\n")
	return b.String()
}

func analysisUserPrompt(req TableAnalysisRequest) string {
	var b strings.Builder
	b.WriteString("## User question\n")
	fmt.Fprintf(&b, "\"%s\"\n\n", req.UserQuery)
	if req.AdditionalContext != "" {
		if knowledgeContext, ok := cutKnowledgeHeader(req.AdditionalContext); ok {
			b.WriteString("## Business rules and domain knowledge (must be considered when selecting tables)\n\n")
			b.WriteString(knowledgeContext + "\n\n")
			b.WriteString("[Important] Tables mentioned in the domain knowledge above must be part of the selection.\n\n")
		} else {
			b.WriteString("## Supplementary notes\n\n")
			b.WriteString(req.AdditionalContext + "\n\n")
		}
	}
	b.WriteString("Output the analysis strictly in the format above.\n\n")
	b.WriteString("[Reminder]\n")
	b.WriteString("- Check every noun in the question and make sure its table is selected\n")
	b.WriteString("- If a table's data is displayed through another table (an id resolved to a name), select both\n")
	b.WriteString("- TABLES must list every required table; a missing one makes the query fail\n")
	return b.String()
}

// cutKnowledgeHeader reports whether context carries a formatted knowledge
// block and returns it without the header line.
func cutKnowledgeHeader(context string) (string, bool) {
	if !strings.Contains(context, knowledge.Header) {
		return "", false
	}
	return strings.TrimSpace(strings.ReplaceAll(context, knowledge.Header, "")), true
}

func looksLikeForeignKey(column string) bool {
	return strings.HasSuffix(strings.ToLower(column), "id")
}
