// Package intent classifies a free-text query into a topical category.
//
// Keyword groups are scanned in the priority order of the rules table
// (academics, activities, awards, emotional support, narrative, strategic
// framework). The first group with a hit wins; "general" is the fallback.
package intent
