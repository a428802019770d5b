package model

import (
	"fmt"
	"time"
)

// BookStatus is the lifecycle status of a catalogued title.
type BookStatus string

const (
	BookAvailable   BookStatus = "available"
	BookBorrowed    BookStatus = "borrowed"
	BookReserved    BookStatus = "reserved"
	BookMaintenance BookStatus = "maintenance"
	BookDamaged     BookStatus = "damaged"
)

// Valid reports whether s is a known status.
func (s BookStatus) Valid() bool {
	switch s {
	case BookAvailable, BookBorrowed, BookReserved, BookMaintenance, BookDamaged:
		return true
	}
	return false
}

// Condition describes the physical state of the copies of a title.
type Condition string

const (
	ConditionExcellent Condition = "excellent"
	ConditionGood      Condition = "good"
	ConditionFair      Condition = "fair"
	ConditionPoor      Condition = "poor"
	ConditionDamaged   Condition = "damaged"
)

// Valid reports whether c is a known condition.
func (c Condition) Valid() bool {
	switch c {
	case ConditionExcellent, ConditionGood, ConditionFair, ConditionPoor, ConditionDamaged:
		return true
	}
	return false
}

// Book is a catalogued title together with its copy inventory.  Quantity is
// the number of physical copies owned; Available counts the copies that are
// not currently lent out.  Version is bumped on every availability change and
// is used for optimistic concurrency checks.
//
// Fields:
//
//	ID              – primary key identifier.
//	Title           – display title.
//	Authors         – ordered author list.
//	ISBN            – unique catalog code.
//	GenreID         – optional genre reference.
//	Publisher       – publisher name.
//	PublicationYear – year of publication (0 when unknown).
//	Pages           – page count (0 when unknown).
//	Quantity        – total copies owned, at least 1.
//	Available       – copies on the shelf, 0 <= Available <= Quantity.
//	Condition       – physical condition of the copies.
//	Status          – derived lifecycle status.
//	Description     – free text.
//	Version         – optimistic lock counter.
//	CreatedAt       – creation timestamp.
//	UpdatedAt       – last update timestamp.
type Book struct {
	ID              uint64     // books.id
	Title           string     // books.title
	Authors         []string   // books.authors (JSON array)
	ISBN            string     // books.isbn
	GenreID         *uint64    // books.genre_id (nullable)
	Publisher       string     // books.publisher
	PublicationYear uint32     // books.publication_year
	Pages           uint32     // books.pages
	Quantity        uint32     // books.quantity
	Available       uint32     // books.available
	Condition       Condition  // books.physical_condition
	Status          BookStatus // books.status
	Description     string     // books.description
	Version         uint32     // books.version
	CreatedAt       time.Time  // books.created_at
	UpdatedAt       time.Time  // books.updated_at
}

// RankedBook pairs a title with the number of loans ever recorded for it.
type RankedBook struct {
	Book
	Borrows int
}

// NewBook prepares a freshly catalogued title: every copy starts on the shelf
// and the status is derived from the condition.
func NewBook(title string, authors []string, isbn string, quantity uint32, cond Condition) Book {
	if cond == "" {
		cond = ConditionGood
	}
	b := Book{
		Title:     title,
		Authors:   authors,
		ISBN:      isbn,
		Quantity:  quantity,
		Available: quantity,
		Condition: cond,
	}
	b.Status = b.DeriveStatus(0)
	return b
}

// DeriveStatus computes the status implied by the counters.  held is the
// number of shelf copies set aside for approved reservations.
func (b Book) DeriveStatus(held int) BookStatus {
	switch {
	case b.Condition == ConditionDamaged:
		return BookDamaged
	case b.Status == BookMaintenance:
		return BookMaintenance
	case b.Available == 0:
		return BookBorrowed
	case held >= int(b.Available):
		return BookReserved
	default:
		return BookAvailable
	}
}

// Lendable reports whether copies of the title may leave the building at all.
func (b Book) Lendable() bool {
	return b.Condition != ConditionDamaged && b.Status != BookMaintenance && b.Status != BookDamaged
}

// CheckOut takes one copy off the shelf.
func (b *Book) CheckOut() error {
	if b.Available == 0 {
		return &InvariantError{Entity: "book", ID: b.ID, Reason: "available would drop below zero"}
	}
	b.Available--
	return nil
}

// CheckIn puts one copy back on the shelf.
func (b *Book) CheckIn() error {
	if b.Available >= b.Quantity {
		return &InvariantError{Entity: "book", ID: b.ID, Reason: fmt.Sprintf("available would exceed quantity %d", b.Quantity)}
	}
	b.Available++
	return nil
}
