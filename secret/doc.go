// Package secret resolves backend credentials referenced from configuration.
//
// A configured value may contain environment variables, expanded strictly
// (see ExpandEnvStrict), and secret references of the form
//
//	secretref:<provider>:<ref>
//
// either as the whole value or inline ("Bearer secretref:env:OPENAI_KEY").
// References are resolved by named Providers. EnvProvider reads process
// environment variables and FileProvider reads mounted secret files.
// Providers are built from configuration through a Registry of factories.
package secret
