// Package search holds weak-identity lookup helpers. The core engine api
// works on stable item ids only; scanning for items by their text is a
// ui convenience that lives out here on purpose.
package search

import (
	"strings"

	"github.com/openoutline/collab/collab"
)

// FindItemsByText returns the ids of live items whose text equals text,
// in outline order.
func FindItemsByText(doc *collab.Doc, text string) []collab.Id {
	itemIds := []collab.Id{}
	for _, itemId := range doc.TraverseItemIds() {
		itemText, err := doc.ItemText(itemId)
		if err != nil {
			continue
		}
		if itemText == text {
			itemIds = append(itemIds, itemId)
		}
	}
	return itemIds
}

// FindItemsContaining returns the ids of live items whose text contains
// substr, in outline order.
func FindItemsContaining(doc *collab.Doc, substr string) []collab.Id {
	itemIds := []collab.Id{}
	for _, itemId := range doc.TraverseItemIds() {
		itemText, err := doc.ItemText(itemId)
		if err != nil {
			continue
		}
		if strings.Contains(itemText, substr) {
			itemIds = append(itemIds, itemId)
		}
	}
	return itemIds
}
