// Package mode resolves the interaction mode for a conversational turn.
//
// Resolution walks a prioritized chain of rules and takes the first one
// with an opinion:
//
//  1. emotional_keyword: distress, confusion, energy and tactical keyword
//     families, scanned in that order.
//  2. archetype_intent: the (archetype, intent) table. Crisis-safe
//     archetypes always resolve to supportive.
//  3. stage_default: every conversation stage has a default mode.
//
// After a mode is chosen, the warning table of the rules is checked for
// known-bad combinations. Warnings are advisory and never change the mode.
//
//	res, err := mode.NewResolver(r).Resolve(query, types.ArchetypeHighAchiever, types.StageExecution)
//	if err != nil {
//	    return err // archetype or stage outside the closed set
//	}
//	fmt.Println(res.Mode, res.Rule, res.Trace)
package mode
