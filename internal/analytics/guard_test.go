package analytics

import "testing"

func TestValidateQuery_Allowed(t *testing.T) {
	t.Parallel()
	queries := []string{
		"SELECT * FROM usage_log",
		"select provider, sum(cost_cents) from usage_log group by provider",
		"SELECT * FROM usage_log;",
		"  SELECT 1  ",
		"WITH recent AS (SELECT * FROM usage_log WHERE ts > '2026-01-01') SELECT * FROM recent",
		// Column names containing keyword substrings are fine.
		"SELECT created_at_like, updated_col FROM usage_log",
	}
	for _, q := range queries {
		if err := ValidateQuery(q); err != nil {
			t.Errorf("ValidateQuery(%q) = %v, want nil", q, err)
		}
	}
}

func TestValidateQuery_Rejected(t *testing.T) {
	t.Parallel()
	queries := []string{
		"",
		"   ",
		"DELETE FROM usage_log",
		"INSERT INTO usage_log VALUES (1)",
		"UPDATE usage_log SET cost_cents = 0",
		"DROP TABLE usage_log",
		"drop table usage_log",
		"SELECT 1; DELETE FROM usage_log",
		"SELECT 1; SELECT 2",
		"PRAGMA table_info(usage_log)",
		"CREATE TABLE x (id int)",
		"SELECT * FROM usage_log WHERE provider = 'a' OR (SELECT 1 FROM x); TRUNCATE y",
		// Keyword embedded mid-query still trips the guard.
		"SELECT 1 WHERE EXISTS (SELECT 1) AND 'x' = 'y' UNION SELECT 2 -- drop",
	}
	for _, q := range queries {
		if err := ValidateQuery(q); err == nil {
			t.Errorf("ValidateQuery(%q) = nil, want error", q)
		}
	}
}
