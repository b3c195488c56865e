// Package student holds the domain model of a language student talking to the bot.
//
// The package defines:
//
//   - Record: everything known about one phone identity
//   - Stage: the closed set AskingName, AskingLanguage, Learning
//   - Entitlement: plan, premium window and the payment provider
//   - Repository: the contract of the durable store
//
// # Stages
//
// A new record starts in AskingName. Stages only move forward:
//
//	rec := student.New("5511987654321", now)
//	_ = rec.Advance(student.AskingLanguage{})
//	_ = rec.Advance(student.Learning{})
//	rec.SetAwaiting("Hello, my name is", now)
//
// Advance refuses to go back and returns shared.ErrInvalidStageTransition.
//
// # Entitlement
//
// Premium access is decided by PremiumUntil when it is set and by Plan otherwise:
//
//	rec.IsPremium(now) // PremiumUntil strictly after now
//	rec.IsExpired(now) // PremiumUntil at or before now
//
// The package depends only on the standard library and the shared domain package.
package student
