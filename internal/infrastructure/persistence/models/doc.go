// Package models contains GORM persistence models for the reconciliation
// tables. Models carry the GORM tags and map to and from the domain types of
// internal/domain/reconciliation, which stay free of ORM concerns.
package models
