package usecase

import "fmt"

// SQLPromptTemplate is the fixed instruction text of the sql_prompt template.
// The single %s is replaced by the user's question verbatim.
const SQLPromptTemplate = `Convert the following question into a SQL query:
Question: %s

Available tables:
- users(id, name, age, email)
- orders(id, user_id, product_name, price, order_date)

Generate a standard SQLite SQL statement. Do not output anything else; return only the SQL statement itself.`

// RenderSQLPrompt renders sql_prompt for question.
func RenderSQLPrompt(question string) string {
	return fmt.Sprintf(SQLPromptTemplate, question)
}
