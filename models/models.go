package models

// This file serves as the central export point for all database models
// Import this package to access all model types

// All models are automatically exported from their respective files:
// - User, RefreshToken, PermanentToken from user.go
// - FamilyMember from family_member.go
// - Recording from recording.go
// - Story, VoiceSample from story.go
// - Persona from persona.go
// - Conversation, ConversationMessage from conversation.go

// Database schema overview:
// 1. users - Managed by cookie-based authentication
// 2. family_members - People whose stories are being preserved, one owner per row
// 3. recordings - Captured audio sessions and their processing lifecycle
// 4. stories - Discrete stories extracted from a recording's transcription
// 5. personas - The AI persona derived from all of a member's stories
// 6. voice_samples - Recordings submitted to the voice-cloning provider
// 7. conversations / conversation_messages - Chats between a user and a persona
