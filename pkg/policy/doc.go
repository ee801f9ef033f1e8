// Package policy evaluates Rego policies against built catalogs before
// any resource is applied. Error-severity violations block the run;
// warnings are reported and the run proceeds.
package policy
