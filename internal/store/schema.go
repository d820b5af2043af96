package store

// Timestamps are RFC 3339 text in every backend.

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS tests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_path TEXT NOT NULL,
		test_name TEXT NOT NULL,            -- "describe > it"
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (file_path, test_name)
	)`,
	`CREATE TABLE IF NOT EXISTS functions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_path TEXT NOT NULL,
		function_name TEXT NOT NULL,
		start_line INTEGER NOT NULL,
		end_line INTEGER NOT NULL,
		commit_hash TEXT,                   -- NULL when unknown
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (file_path, function_name, start_line, end_line),
		CHECK (start_line <= end_line)
	)`,
	`CREATE TABLE IF NOT EXISTS test_function_links (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		test_id INTEGER NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
		function_id INTEGER NOT NULL REFERENCES functions(id) ON DELETE CASCADE,
		created_at TEXT NOT NULL,
		UNIQUE (test_id, function_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tests_file_path ON tests(file_path)`,
	`CREATE INDEX IF NOT EXISTS idx_functions_file_path ON functions(file_path)`,
	`CREATE INDEX IF NOT EXISTS idx_functions_commit_hash ON functions(commit_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_links_test_id ON test_function_links(test_id)`,
	`CREATE INDEX IF NOT EXISTS idx_links_function_id ON test_function_links(function_id)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS tests (
		id BIGSERIAL PRIMARY KEY,
		file_path TEXT NOT NULL,
		test_name TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (file_path, test_name)
	)`,
	`CREATE TABLE IF NOT EXISTS functions (
		id BIGSERIAL PRIMARY KEY,
		file_path TEXT NOT NULL,
		function_name TEXT NOT NULL,
		start_line INTEGER NOT NULL,
		end_line INTEGER NOT NULL,
		commit_hash TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (file_path, function_name, start_line, end_line),
		CHECK (start_line <= end_line)
	)`,
	`CREATE TABLE IF NOT EXISTS test_function_links (
		id BIGSERIAL PRIMARY KEY,
		test_id BIGINT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
		function_id BIGINT NOT NULL REFERENCES functions(id) ON DELETE CASCADE,
		created_at TEXT NOT NULL,
		UNIQUE (test_id, function_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tests_file_path ON tests(file_path)`,
	`CREATE INDEX IF NOT EXISTS idx_functions_file_path ON functions(file_path)`,
	`CREATE INDEX IF NOT EXISTS idx_functions_commit_hash ON functions(commit_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_links_test_id ON test_function_links(test_id)`,
	`CREATE INDEX IF NOT EXISTS idx_links_function_id ON test_function_links(function_id)`,
}

// Key columns are VARCHAR so they fit MySQL's unique index limit.
var doltSchema = []string{
	`CREATE TABLE IF NOT EXISTS tests (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		file_path VARCHAR(500) NOT NULL,
		test_name VARCHAR(255) NOT NULL,
		created_at VARCHAR(40) NOT NULL,
		updated_at VARCHAR(40) NOT NULL,
		UNIQUE KEY uniq_tests (file_path, test_name),
		KEY idx_tests_file_path (file_path)
	)`,
	`CREATE TABLE IF NOT EXISTS functions (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		file_path VARCHAR(500) NOT NULL,
		function_name VARCHAR(255) NOT NULL,
		start_line INT NOT NULL,
		end_line INT NOT NULL,
		commit_hash VARCHAR(64),
		created_at VARCHAR(40) NOT NULL,
		updated_at VARCHAR(40) NOT NULL,
		UNIQUE KEY uniq_functions (file_path, function_name, start_line, end_line),
		KEY idx_functions_file_path (file_path),
		KEY idx_functions_commit_hash (commit_hash),
		CHECK (start_line <= end_line)
	)`,
	`CREATE TABLE IF NOT EXISTS test_function_links (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		test_id BIGINT NOT NULL,
		function_id BIGINT NOT NULL,
		created_at VARCHAR(40) NOT NULL,
		UNIQUE KEY uniq_links (test_id, function_id),
		KEY idx_links_test_id (test_id),
		KEY idx_links_function_id (function_id),
		FOREIGN KEY (test_id) REFERENCES tests(id) ON DELETE CASCADE,
		FOREIGN KEY (function_id) REFERENCES functions(id) ON DELETE CASCADE
	)`,
}
