// Package server exposes larder over HTTP.
//
// Routes:
//
//	POST   /auth/register/start           {name} -> {options, ephemeralId}
//	POST   /auth/register/finish          {ephemeralId, name, response} -> {user, documentId}
//	POST   /auth/login/start              -> {options, ephemeralId}
//	POST   /auth/login/finish             {ephemeralId, response} -> {user, documents}
//	GET    /auth/me                       -> {user|null, documents}
//	POST   /auth/logout
//	GET    /inventories
//	POST   /inventories                   {name}
//	GET    /inventories/{id}
//	DELETE /inventories/{id}
//	POST   /inventories/{id}/members      {userId}
//	DELETE /inventories/{id}/members/{uid}
//	POST   /inventories/{id}/sync-ticket
//	GET    /sync/{id}[?ticket=...]
//	GET    /health, /health/ready, /metrics
//
// Finish requests also accept the field name tempId for the ceremony id.
package server
