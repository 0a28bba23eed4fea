package store

var schemaSQLite = []string{
	`CREATE TABLE IF NOT EXISTS product (
		product_id INTEGER PRIMARY KEY AUTOINCREMENT,
		asin       TEXT NOT NULL,
		upc        TEXT NOT NULL,
		UNIQUE (asin, upc)
	)`,
	`CREATE TABLE IF NOT EXISTS reviewer (
		reviewer_id        INTEGER PRIMARY KEY AUTOINCREMENT,
		amazon_reviewer_id TEXT NOT NULL UNIQUE,
		reviewer_name      TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS review (
		review_id        INTEGER PRIMARY KEY AUTOINCREMENT,
		reviewer_id      INTEGER NOT NULL REFERENCES reviewer (reviewer_id),
		product_id       INTEGER REFERENCES product (product_id),
		review_text      TEXT NOT NULL DEFAULT '',
		summary          TEXT NOT NULL DEFAULT '',
		overall          INTEGER NOT NULL,
		unix_review_time INTEGER NOT NULL,
		review_time      TIMESTAMP NOT NULL,
		UNIQUE (reviewer_id, unix_review_time)
	)`,
}

var schemaPostgres = []string{
	`CREATE TABLE IF NOT EXISTS product (
		product_id BIGSERIAL PRIMARY KEY,
		asin       TEXT NOT NULL,
		upc        TEXT NOT NULL,
		UNIQUE (asin, upc)
	)`,
	`CREATE TABLE IF NOT EXISTS reviewer (
		reviewer_id        BIGSERIAL PRIMARY KEY,
		amazon_reviewer_id TEXT NOT NULL UNIQUE,
		reviewer_name      TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS review (
		review_id        BIGSERIAL PRIMARY KEY,
		reviewer_id      BIGINT NOT NULL REFERENCES reviewer (reviewer_id),
		product_id       BIGINT REFERENCES product (product_id),
		review_text      TEXT NOT NULL DEFAULT '',
		summary          TEXT NOT NULL DEFAULT '',
		overall          INTEGER NOT NULL,
		unix_review_time BIGINT NOT NULL,
		review_time      TIMESTAMPTZ NOT NULL,
		UNIQUE (reviewer_id, unix_review_time)
	)`,
}

const (
	insertProduct = `INSERT INTO product (asin, upc) VALUES (?, ?) ON CONFLICT (asin, upc) DO NOTHING`

	insertReviewer = `INSERT INTO reviewer (amazon_reviewer_id, reviewer_name) VALUES (?, ?) ON CONFLICT (amazon_reviewer_id) DO NOTHING`

	insertReview = `INSERT INTO review (reviewer_id, product_id, review_text, summary, overall, unix_review_time, review_time)
		VALUES ((SELECT reviewer_id FROM reviewer WHERE amazon_reviewer_id = ? LIMIT 1),
			(SELECT product_id FROM product WHERE asin = ? ORDER BY product_id LIMIT 1),
			?, ?, ?, ?, ?)
		ON CONFLICT (reviewer_id, unix_review_time) DO NOTHING`

	selectReviewerIDs = `SELECT amazon_reviewer_id FROM reviewer`

	selectReviewKeys = `SELECT reviewer.amazon_reviewer_id, review.unix_review_time
		FROM reviewer JOIN review ON reviewer.reviewer_id = review.reviewer_id`
)
