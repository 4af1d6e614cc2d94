// Package redisstore реализует lease.ActionStore поверх Redis.
//
// Условная запись выполняется Lua-скриптом, время истечения считается
// по часам Redis, поэтому несколько инстансов видят одно и то же "сейчас".
package redisstore
