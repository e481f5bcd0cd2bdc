package data

import "github.com/jmoiron/sqlx"

// sqlxIn expands a query's `IN (?)` placeholder for a slice argument and
// rebinds it to the driver's bind type. Every store that claims rows by id
// list goes through this helper to avoid hand-rolled placeholder joins.
func sqlxIn(query string, args ...interface{}) (string, []interface{}, error) {
	query, params, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, err
	}
	return sqlx.Rebind(sqlx.QUESTION, query), params, nil
}
