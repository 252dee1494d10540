package main

// General API documentation for swaggo. Build with -tags=swagger to serve it
// under /swagger/.
//
// @title           wundot API
// @version         1.0
// @description     Pooled generation, sampling policy and streaming sessions over a single loaded model.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
